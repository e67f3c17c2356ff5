package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
	"github.com/keyrotor/keyrotor/internal/core/store"
	"github.com/keyrotor/keyrotor/internal/observability"
	"github.com/keyrotor/keyrotor/internal/server/handlers"
)

func withServerLogger(t *testing.T) {
	t.Helper()
	original := observability.ServerLogger
	observability.InitServerLogger("keyrotor-test", "error", "simple")
	t.Cleanup(func() { observability.ServerLogger = original })
}

func TestUnreachableStoreStartsEmptyAndRecovers(t *testing.T) {
	withServerLogger(t)
	ctx := context.Background()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o600))
	cfg := config.StoreConfig{Driver: config.DriverFile, Path: filepath.Join(blocker, "keys.json")}

	keys := keystore.New()
	gateway := openGateway(ctx, cfg, keys)
	rg, ok := gateway.(*store.Reconnecting)
	require.True(t, ok)

	restorePool(ctx, gateway, keys)
	assert.Equal(t, 0, keys.Len())

	checker := storeHealthChecker{gateway: rg}
	require.ErrorIs(t, checker.CheckHealth(ctx), handlers.ErrDegraded)

	// Keys added while persistence is down are served and kept.
	live := usedRecord("sk-live", 3, 3)
	keys.Insert(live)
	require.Error(t, gateway.Save(ctx, keys.Snapshot()))

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, os.MkdirAll(blocker, 0o755))
	stale := usedRecord("sk-live", 0, 0)
	require.NoError(t, store.NewFileStore(cfg.Path).Save(ctx, []core.KeyRecord{stale, usedRecord("sk-old", 1, 1)}))

	require.NoError(t, gateway.Save(ctx, keys.Snapshot()))
	require.NoError(t, checker.CheckHealth(ctx))
	require.Equal(t, 2, keys.Len())
	got, ok := keys.Get("sk-live")
	require.True(t, ok)
	assert.Equal(t, uint32(3), got.Usage.RequestsThisDay)

	require.NoError(t, gateway.Save(ctx, keys.Snapshot()))
	assert.Len(t, loadFileStore(t, cfg.Path), 2)
	require.NoError(t, gateway.Close())
}

func TestReachableStoreIsUsedDirectly(t *testing.T) {
	withServerLogger(t)
	path := seedFileStore(t, usedRecord("sk-a", 0, 0))

	keys := keystore.New()
	gateway := openGateway(context.Background(), config.StoreConfig{Driver: config.DriverFile, Path: path}, keys)
	_, reconnecting := gateway.(*store.Reconnecting)
	assert.False(t, reconnecting)

	restorePool(context.Background(), gateway, keys)
	assert.Equal(t, 1, keys.Len())
}

func TestUnreadableSnapshotStartsEmpty(t *testing.T) {
	withServerLogger(t)
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	keys := keystore.New()
	gateway := openGateway(context.Background(), config.StoreConfig{Driver: config.DriverFile, Path: path}, keys)
	restorePool(context.Background(), gateway, keys)
	assert.Equal(t, 0, keys.Len())
}

func TestIntervalsFromConfig(t *testing.T) {
	got := intervalsFromConfig(config.MaintenanceConfig{PersistInterval: 5 * time.Second, DayResetInterval: time.Hour})
	assert.Equal(t, 5*time.Second, got.Persist)
	assert.Equal(t, time.Hour, got.DayReset)
	assert.Zero(t, got.MinuteReset)
}
