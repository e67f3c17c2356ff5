package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core/store"
	"github.com/keyrotor/keyrotor/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display comprehensive environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		version := crucible.GetVersion()

		observability.CLILogger.Info("=== Environment Information ===")
		observability.CLILogger.Info("")

		// Application Info
		identity := GetAppIdentity()
		observability.CLILogger.Info("Application:")
		observability.CLILogger.Info("  Name:       " + identity.BinaryName)
		observability.CLILogger.Info("  Version:    " + versionInfo.Version)
		observability.CLILogger.Info("  Commit:     " + versionInfo.Commit)
		observability.CLILogger.Info("  Built:      " + versionInfo.BuildDate)
		observability.CLILogger.Info("")

		// SSOT Info
		observability.CLILogger.Info("SSOT:")
		observability.CLILogger.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		observability.CLILogger.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		observability.CLILogger.Info("")

		// Runtime Info
		observability.CLILogger.Info("Runtime:")
		observability.CLILogger.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		observability.CLILogger.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		observability.CLILogger.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		observability.CLILogger.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		observability.CLILogger.Info("")

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return
		}

		// Configuration
		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info("  Server Host:    "+cfg.Server.Host, zap.String("host", cfg.Server.Host))
		observability.CLILogger.Info(fmt.Sprintf("  Server Port:    %d", cfg.Server.Port), zap.Int("port", cfg.Server.Port))
		observability.CLILogger.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		observability.CLILogger.Info("  Log Profile:    "+cfg.Logging.Profile, zap.String("log_profile", cfg.Logging.Profile))
		observability.CLILogger.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port),
			zap.Bool("metrics_enabled", cfg.Metrics.Enabled), zap.Int("metrics_port", cfg.Metrics.Port))
		observability.CLILogger.Info("  Config File:    "+config.DefaultConfigPath(), zap.String("config_file", config.DefaultConfigPath()))
		observability.CLILogger.Info("")

		// Persistence
		observability.CLILogger.Info("Store:")
		observability.CLILogger.Info("  Driver:         "+cfg.Store.Driver, zap.String("store_driver", cfg.Store.Driver))
		observability.CLILogger.Info("  Location:       "+store.Describe(cfg.Store), zap.String("store_location", store.Describe(cfg.Store)))
		if strings.TrimSpace(cfg.Store.AuthToken) != "" {
			observability.CLILogger.Info("  Auth Token:     (set)")
		}
		observability.CLILogger.Info("")

		// Rate limits
		observability.CLILogger.Info("Limits:")
		observability.CLILogger.Info(fmt.Sprintf("  Per-Key RPM:    %d", cfg.Limits.RPM), zap.Int64("rpm", cfg.Limits.RPM))
		observability.CLILogger.Info(fmt.Sprintf("  Per-Key RPD:    %d", cfg.Limits.RPD), zap.Int64("rpd", cfg.Limits.RPD))
		observability.CLILogger.Info(fmt.Sprintf("  Pool TPM:       %d", cfg.Limits.TPM), zap.Int64("tpm", cfg.Limits.TPM))
		observability.CLILogger.Info("  Key Cooldown:   "+cfg.Limits.KeyCooldown.String(), zap.Duration("key_cooldown", cfg.Limits.KeyCooldown))
		observability.CLILogger.Info("")

		// Maintenance cadence
		observability.CLILogger.Info("Maintenance:")
		observability.CLILogger.Info("  Persist:        " + cfg.Maintenance.PersistInterval.String())
		observability.CLILogger.Info("  Minute Reset:   " + cfg.Maintenance.MinuteResetInterval.String())
		observability.CLILogger.Info("  Day Reset:      " + cfg.Maintenance.DayResetInterval.String())
		observability.CLILogger.Info("  Cooldown Check: " + cfg.Maintenance.CooldownCheckInterval.String())
		observability.CLILogger.Info("  Pool Reset:     " + cfg.Maintenance.AggregateResetInterval.String())
		observability.CLILogger.Info("")

		observability.CLILogger.Info("=== End Environment Information ===")
	},
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
