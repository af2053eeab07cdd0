package services

import (
	"context"
	"errors"
	"fmt"

	"smm-telegram/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgLedger stores orders in Postgres. Ids come from a BIGSERIAL, so they are
// unique under concurrent submissions.
type PgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *PgLedger {
	return &PgLedger{pool: pool}
}

const orderColumns = `
	id, user_id, chat_id, service_key, platform, category, service_name, api_service_id,
	link, quantity, unit_cost::text, margin_percent::text, unit_price::text, total_price::text,
	payment_ref, proof_ref, status, created_at, decided_at, decided_by, reject_reason,
	external_order_id, fulfillment_status, fulfillment_error, fulfillment_remains`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var (
		o                                   models.Order
		platform, status                    string
		unitCost, margin, unitPrice, total string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ChatID, &o.ServiceKey, &platform, &o.Category, &o.ServiceName, &o.APIServiceID,
		&o.Link, &o.Quantity, &unitCost, &margin, &unitPrice, &total,
		&o.PaymentRef, &o.ProofRef, &status, &o.CreatedAt, &o.DecidedAt, &o.DecidedBy, &o.RejectReason,
		&o.ExternalOrderID, &o.FulfillmentStatus, &o.FulfillmentError, &o.FulfillmentRemains,
	)
	if err != nil {
		return nil, err
	}
	o.Platform = models.Platform(platform)
	o.Status = models.OrderStatus(status)
	for _, f := range []struct {
		raw string
		dst *decimal.Decimal
	}{{unitCost, &o.UnitCost}, {margin, &o.MarginPercent}, {unitPrice, &o.UnitPrice}, {total, &o.TotalPrice}} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return nil, fmt.Errorf("order %d: decode amount %q: %w", o.ID, f.raw, err)
		}
	}
	return &o, nil
}

func (l *PgLedger) Create(ctx context.Context, in models.CreateOrderInput) (int64, error) {
	if err := checkCreateInput(in); err != nil {
		return 0, err
	}
	var id int64
	err := l.pool.QueryRow(ctx, `
		INSERT INTO orders (
			user_id, chat_id, service_key, platform, category, service_name, api_service_id,
			link, quantity, unit_cost, margin_percent, unit_price, total_price,
			payment_ref, proof_ref, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12::numeric, $13::numeric, $14, $15, $16)
		RETURNING id`,
		in.UserID, in.ChatID, in.ServiceKey, string(in.Platform), in.Category, in.ServiceName, in.APIServiceID,
		in.Link, in.Quantity, in.UnitCost.String(), in.MarginPercent.String(), in.UnitPrice.String(), in.TotalPrice.String(),
		in.PaymentRef, in.ProofRef, string(models.OrderStatusPending),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return id, nil
}

func (l *PgLedger) Get(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(l.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return o, nil
}

func (l *PgLedger) List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	// LIMIT NULL is LIMIT ALL.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	if status == "" {
		return l.query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT $1`, lim)
	}
	return l.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY id DESC LIMIT $2`, string(status), lim)
}

func (l *PgLedger) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 1000
	}
	return l.query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
}

func (l *PgLedger) ListInFlight(ctx context.Context) ([]models.Order, error) {
	return l.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND external_order_id IS NOT NULL
		  AND fulfillment_status NOT IN ($2, $3, $4, $5)
		ORDER BY id`,
		string(models.OrderStatusApproved),
		models.FulfillmentCompleted, models.FulfillmentPartial, models.FulfillmentCanceled, models.FulfillmentFailed,
	)
}

func (l *PgLedger) ListPlacing(ctx context.Context) ([]models.Order, error) {
	return l.query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND external_order_id IS NULL AND fulfillment_status = $2
		ORDER BY id`,
		string(models.OrderStatusApproved), models.FulfillmentPlacing,
	)
}

func (l *PgLedger) query(ctx context.Context, sql string, args ...any) ([]models.Order, error) {
	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// SetStatus is a compare-and-swap on status = 'pending'; only one concurrent
// decision can match the row.
func (l *PgLedger) SetStatus(ctx context.Context, id int64, to models.OrderStatus, adminID int64, reason string) (*models.Order, error) {
	if to != models.OrderStatusApproved && to != models.OrderStatusRejected {
		return nil, fmt.Errorf("set status %q: %w", to, ErrInvalidTransition)
	}
	var rejectReason *string
	if to == models.OrderStatusRejected {
		rejectReason = &reason
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders
		SET status = $1, decided_by = $2, decided_at = now(), reject_reason = $3, updated_at = now()
		WHERE id = $4 AND status = $5
		RETURNING `+orderColumns,
		string(to), adminID, rejectReason, id, string(models.OrderStatusPending),
	))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var current string
		checkErr := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(checkErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
		}
		if checkErr != nil {
			return nil, checkErr
		}
		return nil, fmt.Errorf("order %d is %s: %w", id, current, ErrInvalidTransition)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, note)
		VALUES ($1, $2, $3, $4, $5)`,
		id, string(models.OrderStatusPending), string(to), adminID, reason,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func (l *PgLedger) MarkFulfillmentPlacing(ctx context.Context, id int64) error {
	return l.exec(ctx, id, `
		UPDATE orders SET fulfillment_status = $2, fulfillment_error = NULL, updated_at = now()
		WHERE id = $1`, models.FulfillmentPlacing)
}

func (l *PgLedger) RecordFulfillment(ctx context.Context, id int64, externalID, errMsg string) error {
	if errMsg != "" {
		return l.exec(ctx, id, `
			UPDATE orders SET fulfillment_status = $2, fulfillment_error = $3, updated_at = now()
			WHERE id = $1`, models.FulfillmentFailed, errMsg)
	}
	return l.exec(ctx, id, `
		UPDATE orders SET fulfillment_status = $2, external_order_id = $3, fulfillment_error = NULL, updated_at = now()
		WHERE id = $1`, models.FulfillmentPlaced, externalID)
}

func (l *PgLedger) UpdateFulfillmentStatus(ctx context.Context, id int64, status string, remains *int) error {
	return l.exec(ctx, id, `
		UPDATE orders SET fulfillment_status = $2, fulfillment_remains = $3, updated_at = now()
		WHERE id = $1`, status, remains)
}

func (l *PgLedger) exec(ctx context.Context, id int64, sql string, args ...any) error {
	tag, err := l.pool.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return nil
}

func (l *PgLedger) Analytics(ctx context.Context) (models.Analytics, error) {
	var (
		a              models.Analytics
		revenue, costs string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT
			COUNT(*)::int,
			COUNT(*) FILTER (WHERE status = 'pending')::int,
			COUNT(*) FILTER (WHERE status = 'approved')::int,
			COUNT(*) FILTER (WHERE status = 'rejected')::int,
			COALESCE(SUM(total_price) FILTER (WHERE status = 'approved'), 0)::text,
			COALESCE(SUM(ROUND(unit_cost * quantity, 2)) FILTER (WHERE status = 'approved'), 0)::text
		FROM orders`,
	).Scan(&a.TotalOrders, &a.PendingCount, &a.ApprovedCount, &a.RejectedCount, &revenue, &costs)
	if err != nil {
		return a, err
	}
	rev, err := decimal.NewFromString(revenue)
	if err != nil {
		return a, err
	}
	cost, err := decimal.NewFromString(costs)
	if err != nil {
		return a, err
	}
	a.Revenue = rev
	a.Profit = rev.Sub(cost)
	return a, nil
}
