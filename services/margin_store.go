package services

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const globalMarginScope = "global"

// PgMarginStore keeps margins in the profit_margins table, one row per scope
// ("global" or a service key).
type PgMarginStore struct {
	pool *pgxpool.Pool
}

func NewPgMarginStore(pool *pgxpool.Pool) *PgMarginStore {
	return &PgMarginStore{pool: pool}
}

func (s *PgMarginStore) LoadMargins(ctx context.Context) (*decimal.Decimal, map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `SELECT scope, percent::text FROM profit_margins`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var global *decimal.Decimal
	overrides := make(map[string]decimal.Decimal)
	for rows.Next() {
		var scope, raw string
		if err := rows.Scan(&scope, &raw); err != nil {
			return nil, nil, err
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("margin %s: %w", scope, err)
		}
		if scope == globalMarginScope {
			global = &v
			continue
		}
		overrides[scope] = v
	}
	return global, overrides, rows.Err()
}

func (s *PgMarginStore) SaveGlobalMargin(ctx context.Context, percent decimal.Decimal) error {
	return s.upsert(ctx, globalMarginScope, percent)
}

func (s *PgMarginStore) SaveServiceMargin(ctx context.Context, serviceKey string, percent *decimal.Decimal) error {
	if percent == nil {
		_, err := s.pool.Exec(ctx, `DELETE FROM profit_margins WHERE scope = $1`, serviceKey)
		return err
	}
	return s.upsert(ctx, serviceKey, *percent)
}

func (s *PgMarginStore) upsert(ctx context.Context, scope string, percent decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profit_margins (scope, percent, updated_at)
		VALUES ($1, $2::numeric, now())
		ON CONFLICT (scope) DO UPDATE SET percent = EXCLUDED.percent, updated_at = now()`,
		scope, percent.String(),
	)
	return err
}
