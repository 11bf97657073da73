package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies every embedded migration that has not been recorded in
// schema_migrations yet. Each file runs in its own transaction.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	if _, err := s.connectionPool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var applied []string
	for _, name := range names {
		ran, err := s.applyMigration(ctx, name)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", name, err)
		}
		if ran {
			applied = append(applied, name)
		}
	}

	return applied, nil
}

func (s *Store) applyMigration(ctx context.Context, name string) (bool, error) {
	body, err := migrations.ReadFile(name)
	if err != nil {
		return false, err
	}

	ran := false
	err = s.WithTransaction(ctx, func(transaction pgx.Tx) error {
		// Serializes concurrent migrators (several workers booting at once).
		if _, err := transaction.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('schema_migrations'))`); err != nil {
			return err
		}

		var exists bool
		if err := transaction.QueryRow(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`,
			name,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}

		if _, err := transaction.Exec(ctx, string(body)); err != nil {
			return err
		}

		if _, err := transaction.Exec(
			ctx,
			`INSERT INTO schema_migrations (name) VALUES ($1)`,
			name,
		); err != nil {
			return err
		}

		ran = true
		return nil
	})

	return ran, err
}
