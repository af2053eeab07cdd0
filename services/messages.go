package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const outboundRole = "system/outbound"

// MessageLog records notifications sent to users about their orders.
type MessageLog struct {
	pool *pgxpool.Pool
}

func NewMessageLog(pool *pgxpool.Pool) *MessageLog {
	return &MessageLog{pool: pool}
}

// SaveOutbound stores one outbound message. meta is kept as jsonb; order
// notifications carry order_id and kind.
func (l *MessageLog) SaveOutbound(ctx context.Context, chatID int64, content string, meta map[string]any) error {
	metaJSON := "{}"
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		metaJSON = string(b)
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO messages (chat_id, role, content, meta)
		VALUES ($1, $2, $3, $4::jsonb)`,
		chatID, outboundRole, content, metaJSON,
	)
	return err
}

// SentForOrder reports whether a notification of kind was already stored for
// the order.
func (l *MessageLog) SentForOrder(ctx context.Context, orderID int64, kind string) (bool, error) {
	var n int
	err := l.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE role = $1 AND meta->>'order_id' = $2 AND meta->>'kind' = $3`,
		outboundRole, fmt.Sprintf("%d", orderID), kind,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
