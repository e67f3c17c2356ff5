package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
)

// blockedStore returns a file store config whose directory cannot be created
// until the returned func removes the blocking file.
func blockedStore(t *testing.T) (config.StoreConfig, func()) {
	t.Helper()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0600))
	cfg := config.StoreConfig{Driver: "file", Path: filepath.Join(blocker, "keys.json")}
	return cfg, func() { require.NoError(t, os.Remove(blocker)) }
}

func TestReconnectingReportsOpenErrorUntilReachable(t *testing.T) {
	ctx := context.Background()
	cfg, unblock := blockedStore(t)

	_, openErr := Open(ctx, cfg)
	require.Error(t, openErr)

	rg := NewReconnecting(cfg, openErr)
	assert.False(t, rg.Connected())
	assert.Equal(t, config.DriverFile, rg.Driver())

	_, err := rg.Load(ctx)
	require.Error(t, err)
	require.Error(t, rg.Save(ctx, samplePool()))
	require.Error(t, rg.LastError())

	unblock()
	require.NoError(t, rg.Save(ctx, samplePool()))
	assert.True(t, rg.Connected())
	assert.NoError(t, rg.LastError())

	loaded, err := NewFileStore(cfg.Path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	require.NoError(t, rg.Close())
}

func TestReconnectingHandsPersistedKeysToOnRestore(t *testing.T) {
	ctx := context.Background()
	cfg, unblock := blockedStore(t)

	rg := NewReconnecting(cfg, os.ErrPermission)
	var restored []core.KeyRecord
	rg.OnRestore = func(records []core.KeyRecord) { restored = records }

	require.Error(t, rg.Save(ctx, nil))
	require.Nil(t, restored)

	unblock()
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Path), 0755))
	require.NoError(t, NewFileStore(cfg.Path).Save(ctx, samplePool()))

	fresh := []core.KeyRecord{core.NewKeyRecord("sk-new", t0)}
	require.NoError(t, rg.Save(ctx, fresh))
	require.Len(t, restored, 2)

	// The restoring save leaves the persisted file alone.
	onDisk, err := NewFileStore(cfg.Path).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, onDisk, 2)

	restored = nil
	require.NoError(t, rg.Save(ctx, fresh))
	assert.Nil(t, restored)
	onDisk, err = NewFileStore(cfg.Path).Load(ctx)
	require.NoError(t, err)
	require.Len(t, onDisk, 1)
	assert.Equal(t, "sk-new", onDisk[0].Key)
}

func TestReconnectingLoadSkipsRestore(t *testing.T) {
	ctx := context.Background()
	cfg, unblock := blockedStore(t)
	rg := NewReconnecting(cfg, os.ErrPermission)
	rg.OnRestore = func([]core.KeyRecord) { t.Fatal("restore after a successful load") }

	unblock()
	records, err := rg.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, rg.Save(ctx, samplePool()))
}
