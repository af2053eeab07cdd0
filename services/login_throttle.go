package services

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	throttleRoleAdmin          = "admin"
	ThrottleCooldownCapSeconds = 30
)

// LoginThrottle slows down repeated failed /login attempts.
type LoginThrottle struct {
	pool *pgxpool.Pool
}

func NewLoginThrottle(pool *pgxpool.Pool) *LoginThrottle {
	return &LoginThrottle{pool: pool}
}

// WaitSeconds returns how long the user must wait before trying again (0 if no cooldown).
func (t *LoginThrottle) WaitSeconds(ctx context.Context, tgUserID int64) (int, error) {
	var until *time.Time
	err := t.pool.QueryRow(ctx, `
		SELECT cooldown_until FROM login_throttle WHERE tg_user_id = $1 AND role = $2`,
		tgUserID, throttleRoleAdmin,
	).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if until == nil || !time.Now().Before(*until) {
		return 0, nil
	}
	return int(time.Until(*until).Seconds()) + 1, nil
}

// Failed bumps the fail count and starts a cooldown of
// CooldownSecondsForFailCount(fail_count) seconds, which it returns.
func (t *LoginThrottle) Failed(ctx context.Context, tgUserID int64) (int, error) {
	var failCount int
	err := t.pool.QueryRow(ctx, `
		INSERT INTO login_throttle (tg_user_id, role, fail_count, last_failed_at, updated_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (tg_user_id, role) DO UPDATE SET
			fail_count = login_throttle.fail_count + 1,
			last_failed_at = now(),
			updated_at = now()
		RETURNING fail_count`,
		tgUserID, throttleRoleAdmin,
	).Scan(&failCount)
	if err != nil {
		return 0, err
	}
	wait := CooldownSecondsForFailCount(failCount)
	_, err = t.pool.Exec(ctx, `
		UPDATE login_throttle SET cooldown_until = now() + make_interval(secs => $3)
		WHERE tg_user_id = $1 AND role = $2`,
		tgUserID, throttleRoleAdmin, float64(wait),
	)
	return wait, err
}

// Succeeded clears the fail count.
func (t *LoginThrottle) Succeeded(ctx context.Context, tgUserID int64) error {
	_, err := t.pool.Exec(ctx, `
		INSERT INTO login_throttle (tg_user_id, role, fail_count, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (tg_user_id, role) DO UPDATE SET
			fail_count = 0,
			last_failed_at = NULL,
			cooldown_until = NULL,
			updated_at = now()`,
		tgUserID, throttleRoleAdmin,
	)
	return err
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	if failCount < 0 {
		failCount = 0
	}
	if failCount >= 5 {
		return ThrottleCooldownCapSeconds
	}
	return 1 << failCount
}
