// Package store persists the key pool. A Gateway loads the full record set
// at startup and overwrites it wholesale on every save; it never touches
// live pool state.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// Gateway is a durable home for pool snapshots.
type Gateway interface {
	// Load returns every persisted record. A store that has never been
	// written returns an empty slice and no error.
	Load(ctx context.Context) ([]core.KeyRecord, error)
	// Save replaces the persisted state with records.
	Save(ctx context.Context, records []core.KeyRecord) error
	// Driver names the backend.
	Driver() string
	Close() error
}

// Open returns the gateway selected by cfg.Driver, with its schema in place.
func Open(ctx context.Context, cfg config.StoreConfig) (Gateway, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = config.DriverFile
	}

	switch driver {
	case config.DriverFile:
		path := strings.TrimSpace(cfg.Path)
		if path == "" {
			return nil, errors.New("store path is required for the file driver")
		}
		if err := ensureStoreDir(path); err != nil {
			return nil, err
		}
		return NewFileStore(path), nil
	case config.DriverLibsql:
		s, err := openLibsql(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		p, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// Describe returns a redacted location string for logs.
func Describe(cfg config.StoreConfig) string {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "<invalid url>"
		}
		if parsed.User != nil {
			parsed.User = url.User(parsed.User.Username())
		}
		query := parsed.Query()
		if query.Has("authToken") {
			query.Set("authToken", "redacted")
			parsed.RawQuery = query.Encode()
		}
		return parsed.String()
	}
	return cfg.Path
}

func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if dsn := strings.TrimSpace(cfg.URL); dsn != "" {
		return addAuthToken(dsn, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("store path or url is required")
	}

	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.HasPrefix(path, "libsql:") {
		return path, nil
	}

	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
