package services

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserDirectory remembers every user who talked to the bot, for broadcasts.
type UserDirectory interface {
	Touch(ctx context.Context, userID, chatID int64, username string) error
	ChatIDs(ctx context.Context) ([]int64, error)
}

type PgUserDirectory struct {
	pool *pgxpool.Pool
}

func NewPgUserDirectory(pool *pgxpool.Pool) *PgUserDirectory {
	return &PgUserDirectory{pool: pool}
}

// Touch inserts the user or refreshes chat id, username and last_seen_at.
func (d *PgUserDirectory) Touch(ctx context.Context, userID, chatID int64, username string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO bot_users (tg_user_id, chat_id, username, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (tg_user_id) DO UPDATE SET chat_id = EXCLUDED.chat_id, username = EXCLUDED.username, last_seen_at = now()`,
		userID, chatID, username,
	)
	return err
}

func (d *PgUserDirectory) ChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := d.pool.Query(ctx, `SELECT chat_id FROM bot_users ORDER BY tg_user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type MemoryUserDirectory struct {
	mu    sync.RWMutex
	chats map[int64]int64 // user id -> chat id
}

func NewMemoryUserDirectory() *MemoryUserDirectory {
	return &MemoryUserDirectory{chats: make(map[int64]int64)}
}

func (d *MemoryUserDirectory) Touch(ctx context.Context, userID, chatID int64, username string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chats[userID] = chatID
	return nil
}

func (d *MemoryUserDirectory) ChatIDs(ctx context.Context) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]int64, 0, len(d.chats))
	for _, c := range d.chats {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
