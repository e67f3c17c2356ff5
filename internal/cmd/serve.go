package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/engine"
	"github.com/keyrotor/keyrotor/internal/core/keystore"
	"github.com/keyrotor/keyrotor/internal/core/maintenance"
	"github.com/keyrotor/keyrotor/internal/core/store"
	errwrap "github.com/keyrotor/keyrotor/internal/errors"
	"github.com/keyrotor/keyrotor/internal/metrics"
	"github.com/keyrotor/keyrotor/internal/observability"
	"github.com/keyrotor/keyrotor/internal/server"
	"github.com/keyrotor/keyrotor/internal/server/handlers"
)

var serveBindings = map[string]string{
	"host":         "server.host",
	"port":         "server.port",
	"store-driver": "store.driver",
	"store-path":   "store.path",
	"store-url":    "store.url",
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// identityHealthChecker validates app identity metadata
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (i identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case i.binaryName == "":
		return errwrap.NewConfigInvalidError("app identity missing binary name")
	case i.envPrefix == "":
		return errwrap.NewConfigInvalidError("app identity missing env prefix")
	case i.configName == "":
		return errwrap.NewConfigInvalidError("app identity missing config name")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the key pool HTTP server",
	Long: `Start the key pool: HTTP API, maintenance jobs, and periodic persistence.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown with a final snapshot
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-validate config (limits apply on restart)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, serveBindings)
		if err != nil {
			return err
		}

		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace()

		logLevel := cfg.Logging.Level
		if viper.GetBool("verbose") {
			logLevel = "debug"
		}
		observability.InitServerLogger(identity.BinaryName, logLevel, cfg.Logging.Profile, namespace)
		logger := observability.ServerLogger

		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port, namespace); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
		}

		keys := keystore.New()
		gateway := openGateway(cmd.Context(), cfg.Store, keys)
		restorePool(cmd.Context(), gateway, keys)

		limiter := engine.NewAggregateLimiter(cfg.Limits.TPM)
		selector := engine.NewSelector(keys, limiter, core.KeyLimits{
			PerMinute: cfg.Limits.RPM,
			PerDay:    cfg.Limits.RPD,
		})

		scheduler := maintenance.New(maintenance.Options{
			Keys:        keys,
			Limiter:     limiter,
			Persister:   gateway,
			KeyCooldown: cfg.Limits.KeyCooldown,
			Intervals:   intervalsFromConfig(cfg.Maintenance),
			Logger:      logger,
		})
		if err := scheduler.Start(); err != nil {
			_ = gateway.Close()
			return errwrap.WrapInternal(cmd.Context(), err, "maintenance scheduler failed to start")
		}

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("key_pool", handlers.PoolHealthChecker{Keys: keys})
		hm.RegisterChecker("app_identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		})
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		if rg, ok := gateway.(*store.Reconnecting); ok {
			hm.RegisterChecker("store", storeHealthChecker{gateway: rg})
		}
		hm.SetPoolStats(keys.Stats)

		srv := server.New(cfg.Server.Host, cfg.Server.Port, handlers.NewKeyHandlers(keys, selector))
		srv.SetTimeouts(server.Timeouts{
			Read:  cfg.Server.ReadTimeout,
			Write: cfg.Server.WriteTimeout,
			Idle:  cfg.Server.IdleTimeout,
		})
		if cfg.Debug.PprofEnabled {
			srv.EnableProfiler()
			logger.Warn("pprof endpoints enabled under /debug")
		}
		handlers.SetAppIdentity(identity)
		handlers.SetStoreDriver(gateway.Driver())
		metrics.SetServerStartTime(time.Now().Unix())
		metrics.SetPoolGauges(keys.Stats())

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.String("store_driver", gateway.Driver()),
			zap.String("store", store.Describe(cfg.Store)),
			zap.Int64("rpm_limit", cfg.Limits.RPM),
			zap.Int64("rpd_limit", cfg.Limits.RPD),
			zap.Int64("tpm_limit", cfg.Limits.TPM),
			zap.Duration("key_cooldown", cfg.Limits.KeyCooldown))

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, scheduler, final snapshot,
		// store, logger.
		signals.OnShutdown(func(ctx context.Context) error {
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := gateway.Close(); err != nil {
				logger.Warn("Failed to close key store", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			persistCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			err := scheduler.PersistSnapshot(persistCtx)
			if _, reconnecting := gateway.(*store.Reconnecting); reconnecting && err == nil {
				// A store that only just came back merges on its first save; write again.
				err = scheduler.PersistSnapshot(persistCtx)
			}
			if err != nil {
				return errwrap.WrapDatabaseError(ctx, err, "final snapshot failed")
			}
			logger.Info("Final key snapshot persisted", zap.Int("keys", keys.Len()))
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := scheduler.Stop(stopCtx); err != nil {
				logger.Warn("Maintenance jobs did not stop in time", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-validating configuration")

			reloaded, err := config.Load(ctx, flagOverrides(cmd.Flags(), serveBindings))
			if err != nil {
				logger.Error("Config reload failed", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			if reloaded.Limits != cfg.Limits || reloaded.Store != cfg.Store {
				logger.Warn("Limits and store settings are fixed at start; restart to apply changes")
			}
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = scheduler.Stop(stopCtx)
			_ = scheduler.PersistSnapshot(stopCtx)
			_ = gateway.Close()
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

// restorePool loads the persisted snapshot into keys. A failed load is
// logged and the pool starts empty.
// storeHealthChecker degrades health while a store that failed to open at
// startup is still unreachable.
type storeHealthChecker struct {
	gateway *store.Reconnecting
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.gateway.LastError() != nil {
		return fmt.Errorf("store %s unreachable: %w", s.gateway.Driver(), handlers.ErrDegraded)
	}
	return nil
}

// openGateway opens the configured store. A store that cannot be opened is
// logged and replaced by one that retries on every load and save, so the pool
// serves from memory until persistence recovers. Records found on recovery are
// merged into keys without overwriting anything added since startup.
func openGateway(ctx context.Context, cfg config.StoreConfig, keys *keystore.Store) store.Gateway {
	logger := observability.ServerLogger

	gateway, err := store.Open(ctx, cfg)
	if err == nil {
		return gateway
	}

	logger.Error("Failed to open key store; serving from memory until it recovers",
		zap.String("driver", cfg.Driver),
		zap.String("location", store.Describe(cfg)),
		zap.Error(err))

	rg := store.NewReconnecting(cfg, err)
	rg.OnRestore = func(records []core.KeyRecord) {
		merged := 0
		for _, record := range records {
			if keys.InsertIfAbsent(record) {
				merged++
			}
		}
		logger.Info("Key store reachable again; merged persisted keys",
			zap.String("driver", rg.Driver()),
			zap.Int("persisted", len(records)),
			zap.Int("merged", merged))
	}
	return rg
}

func restorePool(ctx context.Context, gateway store.Gateway, keys *keystore.Store) {
	logger := observability.ServerLogger

	records, err := gateway.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load persisted keys; starting with an empty pool",
			zap.String("driver", gateway.Driver()),
			zap.Error(err))
		return
	}

	keys.Replace(records)
	stats := keys.Stats()
	logger.Info("Restored key pool",
		zap.Int("total", stats.TotalKeys),
		zap.Int("active", stats.ActiveKeys),
		zap.Int("inactive", stats.InactiveKeys))
}

func intervalsFromConfig(m config.MaintenanceConfig) maintenance.Intervals {
	return maintenance.Intervals{
		Persist:        m.PersistInterval,
		MinuteReset:    m.MinuteResetInterval,
		DayReset:       m.DayResetInterval,
		Cooldown:       m.CooldownCheckInterval,
		AggregateReset: m.AggregateResetInterval,
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("store-driver", config.DriverFile, "persistence backend: file|libsql|postgres")
	serveCmd.Flags().String("store-path", "", "store file path (file and local libsql drivers)")
	serveCmd.Flags().String("store-url", "", "store URL (remote libsql or postgres)")
}
