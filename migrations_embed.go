package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"smm-telegram/db"
)

// migrate works from any working directory.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// applyMigrations runs every embedded migration not yet recorded in
// schema_migrations, in file name order, each in its own transaction.
func applyMigrations(ctx context.Context, verbose bool) error {
	if _, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		base := path.Base(name)
		done, err := applyMigration(ctx, base, string(sqlBytes))
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", base, err)
		}
		if done {
			applied++
			if verbose {
				fmt.Println("applied", base)
			}
		}
	}
	if verbose && applied == 0 {
		fmt.Println("database is up to date")
	}
	return nil
}

func applyMigration(ctx context.Context, name, sql string) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if _, err := tx.Exec(ctx, sql); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
