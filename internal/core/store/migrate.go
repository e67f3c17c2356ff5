package store

import (
	"context"
	"errors"
	"fmt"
)

var libsqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		requests_this_minute INTEGER NOT NULL DEFAULT 0,
		requests_this_day INTEGER NOT NULL DEFAULT 0,
		last_used TEXT NOT NULL,
		created_at TEXT NOT NULL,
		deactivated_at TEXT,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_position ON api_keys(position);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
		key TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		requests_this_minute BIGINT NOT NULL DEFAULT 0,
		requests_this_day BIGINT NOT NULL DEFAULT 0,
		last_used TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		deactivated_at TIMESTAMPTZ,
		position INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_position ON api_keys(position);`,
}

// Migrate ensures the api_keys table exists.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range libsqlSchema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}

// Migrate ensures the api_keys table exists.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return errors.New("store is not initialized")
	}

	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
