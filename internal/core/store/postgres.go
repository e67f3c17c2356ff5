package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// PostgresStore persists the pool in a Postgres api_keys table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	databaseURL := strings.TrimSpace(cfg.URL)
	if databaseURL == "" {
		return nil, errors.New("store url is required for the postgres driver")
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}

	p := &PostgresStore{pool: pool}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresStore) Driver() string { return config.DriverPostgres }

// Load returns every row in saved order.
func (p *PostgresStore) Load(ctx context.Context) ([]core.KeyRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT key, status, requests_this_minute, requests_this_day,
		last_used, created_at, deactivated_at
		FROM api_keys ORDER BY position, key`)
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	defer rows.Close()

	records := []core.KeyRecord{}
	for rows.Next() {
		var (
			record      core.KeyRecord
			status      string
			minute, day int64
			deactivated *time.Time
		)
		if err := rows.Scan(&record.Key, &status, &minute, &day,
			&record.LastUsed, &record.CreatedAt, &deactivated); err != nil {
			return nil, fmt.Errorf("scan api_keys: %w", err)
		}
		record.Status = core.KeyStatus(status)
		record.Usage = core.KeyUsage{
			RequestsThisMinute: uint32(minute), // #nosec G115 -- written from uint32
			RequestsThisDay:    uint32(day),    // #nosec G115 -- written from uint32
		}
		record.LastUsed = record.LastUsed.UTC()
		record.CreatedAt = record.CreatedAt.UTC()
		if deactivated != nil {
			ts := deactivated.UTC()
			record.DeactivatedAt = &ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api_keys: %w", err)
	}
	return records, nil
}

// Save replaces every row in one transaction using COPY.
func (p *PostgresStore) Save(ctx context.Context, records []core.KeyRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM api_keys`); err != nil {
		return fmt.Errorf("clear api_keys: %w", err)
	}

	rows := make([][]any, 0, len(records))
	for i, record := range records {
		rows = append(rows, []any{
			record.Key,
			string(record.Status),
			int64(record.Usage.RequestsThisMinute),
			int64(record.Usage.RequestsThisDay),
			record.LastUsed,
			record.CreatedAt,
			record.DeactivatedAt,
			int32(i), // #nosec G115 -- pool sizes fit in int32
		})
	}

	columns := []string{"key", "status", "requests_this_minute", "requests_this_day",
		"last_used", "created_at", "deactivated_at", "position"}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"api_keys"}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy api_keys: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
