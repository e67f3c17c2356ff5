package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// SQLStore persists the pool in a libsql database (local file or Turso).
type SQLStore struct {
	DB *sql.DB
}

func openLibsql(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(config.DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	if !isRemoteDSN(dsn) {
		if err := configureLocal(ctx, db, dsn); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	s := &SQLStore{DB: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// configureLocal serializes access to a local database file. Each in-memory
// connection is its own database, so :memory: also needs a single connection.
func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	db.SetMaxOpenConns(1)
	if dsn == ":memory:" {
		return nil
	}

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable wal: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func isRemoteDSN(dsn string) bool {
	for _, scheme := range []string{"libsql://", "http://", "https://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

func (s *SQLStore) Driver() string { return config.DriverLibsql }

// Load returns every row in saved order.
func (s *SQLStore) Load(ctx context.Context) ([]core.KeyRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT key, status, requests_this_minute, requests_this_day,
		last_used, created_at, deactivated_at
		FROM api_keys ORDER BY position, key`)
	if err != nil {
		return nil, fmt.Errorf("query api_keys: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	records := []core.KeyRecord{}
	for rows.Next() {
		var (
			record      core.KeyRecord
			status      string
			lastUsed    string
			createdAt   string
			deactivated sql.NullString
		)
		if err := rows.Scan(&record.Key, &status, &record.Usage.RequestsThisMinute, &record.Usage.RequestsThisDay,
			&lastUsed, &createdAt, &deactivated); err != nil {
			return nil, fmt.Errorf("scan api_keys: %w", err)
		}
		record.Status = core.KeyStatus(status)

		if record.LastUsed, err = parseTime(lastUsed); err != nil {
			return nil, fmt.Errorf("key %q last_used: %w", record.Key, err)
		}
		if record.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("key %q created_at: %w", record.Key, err)
		}
		if deactivated.Valid && deactivated.String != "" {
			ts, err := parseTime(deactivated.String)
			if err != nil {
				return nil, fmt.Errorf("key %q deactivated_at: %w", record.Key, err)
			}
			record.DeactivatedAt = &ts
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api_keys: %w", err)
	}
	return records, nil
}

// Save replaces every row in one transaction.
func (s *SQLStore) Save(ctx context.Context, records []core.KeyRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM api_keys`); err != nil {
		return fmt.Errorf("clear api_keys: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO api_keys
		(key, status, requests_this_minute, requests_this_day, last_used, created_at, deactivated_at, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck // closed with the transaction

	for i, record := range records {
		var deactivated any
		if record.DeactivatedAt != nil {
			deactivated = formatTime(*record.DeactivatedAt)
		}
		if _, err := stmt.ExecContext(ctx,
			record.Key,
			string(record.Status),
			int64(record.Usage.RequestsThisMinute),
			int64(record.Usage.RequestsThisDay),
			formatTime(record.LastUsed),
			formatTime(record.CreatedAt),
			deactivated,
			i,
		); err != nil {
			return fmt.Errorf("insert key %q: %w", record.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}
