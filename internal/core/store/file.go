package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// FileStore keeps the pool as a pretty-printed JSON array in one file.
type FileStore struct {
	path string
}

// NewFileStore returns a file gateway rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Driver() string { return config.DriverFile }

// Load reads the file. A missing file is an empty pool.
func (f *FileStore) Load(ctx context.Context) ([]core.KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []core.KeyRecord{}, nil
		}
		return nil, fmt.Errorf("read key file: %w", err)
	}

	records := []core.KeyRecord{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", f.path, err)
	}
	return records, nil
}

// Save writes records to a temp file in the same directory and renames it
// over the target, so readers never see a partial file.
func (f *FileStore) Save(ctx context.Context, records []core.KeyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []core.KeyRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp key file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp key file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replace key file: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
