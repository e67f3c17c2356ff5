package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps a developer's real config and data dirs out of the test.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	SetConfigFile("")
	t.Cleanup(func() { SetConfigFile("") })
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		// Verify server defaults
		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		// Verify store defaults
		assert.Equal(t, DriverFile, cfg.Store.Driver)
		expectedStorePath := filepath.Join(gfconfig.GetAppDataDir("keyrotor"), "keys.json")
		assert.Equal(t, expectedStorePath, cfg.Store.Path)
		assert.Equal(t, "", cfg.Store.URL)
		assert.Equal(t, int32(4), cfg.Store.MaxConns)

		// Verify limits
		assert.Equal(t, int64(15), cfg.Limits.RPM)
		assert.Equal(t, int64(1500), cfg.Limits.RPD)
		assert.Equal(t, int64(1000000), cfg.Limits.TPM)
		assert.Equal(t, 60*time.Second, cfg.Limits.KeyCooldown)

		// Verify maintenance cadence
		assert.Equal(t, 15*time.Second, cfg.Maintenance.PersistInterval)
		assert.Equal(t, time.Minute, cfg.Maintenance.MinuteResetInterval)
		assert.Equal(t, 24*time.Hour, cfg.Maintenance.DayResetInterval)
		assert.Equal(t, time.Minute, cfg.Maintenance.CooldownCheckInterval)
		assert.Equal(t, time.Minute, cfg.Maintenance.AggregateResetInterval)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "SIMPLE", cfg.Logging.Profile)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)
		assert.False(t, cfg.Debug.Enabled)
		assert.False(t, cfg.Debug.PprofEnabled)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"limits": map[string]any{
				"rpm": 30,
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, int64(30), cfg.Limits.RPM)

		// Siblings of an overridden key keep their defaults.
		assert.Equal(t, int64(1500), cfg.Limits.RPD)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("KEYROTOR_PORT", "3000")
		t.Setenv("KEYROTOR_LOG_LEVEL", "warn")
		t.Setenv("KEYROTOR_METRICS_ENABLED", "false")
		t.Setenv("KEYROTOR_TPM_LIMIT", "50")
		t.Setenv("KEYROTOR_KEY_COOLDOWN", "5m")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, int64(50), cfg.Limits.TPM)
		assert.Equal(t, 5*time.Minute, cfg.Limits.KeyCooldown)
	})

	t.Run("CooldownSecondsWins", func(t *testing.T) {
		isolate(t)
		t.Setenv("KEYROTOR_KEY_COOLDOWN", "5m")
		t.Setenv("KEYROTOR_KEY_COOLDOWN_SECONDS", "90")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 90*time.Second, cfg.Limits.KeyCooldown)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n  host: file-host\nlimits:\n  rpd: 99\n"), 0o600))
		SetConfigFile(path)
		t.Setenv("KEYROTOR_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)

		// runtime > env > file > defaults
		assert.Equal(t, 5000, cfg.Server.Port)
		assert.Equal(t, "file-host", cfg.Server.Host)
		assert.Equal(t, int64(99), cfg.Limits.RPD)
		assert.Equal(t, int64(15), cfg.Limits.RPM)
	})

	t.Run("DiscoveredUserFile", func(t *testing.T) {
		isolate(t)
		dir := gfconfig.GetAppConfigDir("keyrotor")
		require.NotEmpty(t, dir)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("limits:\n  rpm: 7\n"), 0o600))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(7), cfg.Limits.RPM)
	})

	t.Run("PinnedFileMissing", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))

		_, err := Load(ctx)
		require.Error(t, err)
	})

	t.Run("MalformedFile", func(t *testing.T) {
		isolate(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		SetConfigFile(path)

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("NonPositiveLimits", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{
			"limits": map[string]any{"rpm": 0, "tpm": -1},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limits.rpm")
		assert.Contains(t, err.Error(), "limits.tpm")
	})

	t.Run("PostgresNeedsURL", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{
			"store": map[string]any{"driver": "postgres"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.url")
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		isolate(t)
		_, err := Load(ctx, map[string]any{
			"store": map[string]any{"driver": "mongo"},
		})
		require.Error(t, err)
	})

	t.Run("LibsqlDefaultsToDatabaseFile", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx, map[string]any{
			"store": map[string]any{"driver": "LibSQL"},
		})
		require.NoError(t, err)
		assert.Equal(t, DriverLibsql, cfg.Store.Driver)
		assert.Equal(t, "keyrotor.db", filepath.Base(cfg.Store.Path))
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.Limits, retrieved.Limits)
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	envVarNames := make(map[string]bool)
	for _, spec := range getEnvSpecs() {
		envVarNames[spec.Name] = true
	}

	for _, name := range []string{
		"KEYROTOR_LOG_LEVEL",
		"KEYROTOR_PORT",
		"KEYROTOR_HOST",
		"KEYROTOR_METRICS_PORT",
		"KEYROTOR_STORE_PATH",
		"KEYROTOR_RPM_LIMIT",
		"KEYROTOR_RPD_LIMIT",
		"KEYROTOR_TPM_LIMIT",
		"KEYROTOR_KEY_COOLDOWN",
	} {
		assert.True(t, envVarNames[name], "%s must be mapped", name)
	}
}

func TestMergeMaps(t *testing.T) {
	dst := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "keep",
	}
	mergeMaps(dst, map[string]any{
		"a": map[string]any{"y": 3},
		"c": true,
	})

	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "y": 3},
		"b": "keep",
		"c": true,
	}, dst)
}

func TestDefaultStorePath(t *testing.T) {
	isolate(t)
	assert.Equal(t, "keys.json", filepath.Base(DefaultStorePath(DriverFile)))
	assert.Equal(t, "keyrotor.db", filepath.Base(DefaultStorePath(DriverLibsql)))
	assert.Equal(t, "", DefaultStorePath(DriverPostgres))
}
