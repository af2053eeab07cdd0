package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CardPointer locates an admin's copy of an order card.
type CardPointer struct {
	ChatID    int64
	MessageID int
}

// AdminCards remembers which message each admin received for an order so the
// cards can be edited once the order is decided.
type AdminCards struct {
	pool *pgxpool.Pool
}

func NewAdminCards(pool *pgxpool.Pool) *AdminCards {
	return &AdminCards{pool: pool}
}

// Save inserts or replaces the pointer for (order, admin chat).
func (c *AdminCards) Save(ctx context.Context, orderID int64, chatID int64, messageID int) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO admin_card_pointers (order_id, chat_id, message_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (order_id, chat_id) DO UPDATE SET message_id = EXCLUDED.message_id, updated_at = now()`,
		orderID, chatID, messageID,
	)
	return err
}

// List returns every admin card sent for the order.
func (c *AdminCards) List(ctx context.Context, orderID int64) ([]CardPointer, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT chat_id, message_id FROM admin_card_pointers WHERE order_id = $1 ORDER BY chat_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CardPointer
	for rows.Next() {
		var p CardPointer
		if err := rows.Scan(&p.ChatID, &p.MessageID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
