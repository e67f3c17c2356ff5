package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/keyrotor/keyrotor/internal/config"
	"github.com/keyrotor/keyrotor/internal/core"
	"github.com/keyrotor/keyrotor/internal/core/store"
	errwrap "github.com/keyrotor/keyrotor/internal/errors"
	"github.com/keyrotor/keyrotor/internal/observability"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Run diagnostic checks on the system and suggest fixes for common issues.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		bannerName := "doctor"
		if identity != nil && identity.BinaryName != "" {
			bannerName = identity.BinaryName + " doctor"
		}
		observability.CLILogger.Info("=== " + bannerName + " ===")
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Running diagnostic checks...")
		observability.CLILogger.Info("")

		allChecks := true
		totalChecks := 8

		// Check 1: Go version
		goVersion := runtime.Version()
		if goVersion >= "go1.23" {
			observability.CLILogger.Info(fmt.Sprintf("[1/%d] Checking Go version... ✅ %s", totalChecks, goVersion), zap.String("go_version", goVersion))
		} else {
			observability.CLILogger.Warn(fmt.Sprintf("[1/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", totalChecks, goVersion), zap.String("go_version", goVersion))
			allChecks = false
		}

		// Check 2: Crucible access
		version := crucible.GetVersion()
		if version.Crucible != "" {
			observability.CLILogger.Info(fmt.Sprintf("[2/%d] Checking Crucible access... ✅ v%s", totalChecks, version.Crucible), zap.String("crucible_version", version.Crucible))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[2/%d] Checking Crucible access... ❌ Cannot access Crucible", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible", errwrap.NewInternalError("Crucible service unavailable"))
			allChecks = false
		}

		// Check 3: Gofulmen access
		if version.Gofulmen != "" {
			observability.CLILogger.Info(fmt.Sprintf("[3/%d] Checking Gofulmen access... ✅ v%s", totalChecks, version.Gofulmen), zap.String("gofulmen_version", version.Gofulmen))
		} else {
			observability.CLILogger.Error(fmt.Sprintf("[3/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", totalChecks))
			allChecks = false
		}

		// Check 4: Config directory
		configPath := doctorConfigPath()
		if configPath == "" {
			observability.CLILogger.Error(fmt.Sprintf("[4/%d] Checking config directory... ❌ Cannot resolve config directory", totalChecks))
			ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot resolve config directory", errwrap.NewInternalError("config directory not resolved"))
			allChecks = false
		} else {
			configDir := filepath.Dir(configPath)
			observability.CLILogger.Info(fmt.Sprintf("[4/%d] Checking config directory... ✅ %s", totalChecks, configDir), zap.String("config_dir", configDir))
		}

		// Check 5: Environment
		observability.CLILogger.Info(fmt.Sprintf("[5/%d] Checking environment... ✅ %s/%s", totalChecks, runtime.GOOS, runtime.GOARCH),
			zap.String("os", runtime.GOOS),
			zap.String("arch", runtime.GOARCH))

		// Check 6: Store location
		cfg, cfgErr := config.Load(ctx)
		if cfgErr != nil {
			observability.CLILogger.Warn(fmt.Sprintf("[6/%d] Checking store... ⚠️  config not loaded", totalChecks), zap.Error(cfgErr))
			observability.CLILogger.Warn(fmt.Sprintf("[7/%d] Checking persisted keys... ⚠️  skipped (config not loaded)", totalChecks))
			observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking limits... ⚠️  skipped (config not loaded)", totalChecks))
			allChecks = false
		} else {
			if !checkStoreLocation(cfg.Store, 6, totalChecks) {
				allChecks = false
			}

			// Check 7: Persisted keys readable
			if !checkPersistedKeys(ctx, cfg.Store, 7, totalChecks) {
				allChecks = false
			}

			// Check 8: Limits
			problems := limitWarnings(cfg)
			if len(problems) == 0 {
				observability.CLILogger.Info(fmt.Sprintf("[8/%d] Checking limits... ✅ rpm=%d rpd=%d tpm=%d cooldown=%s",
					totalChecks, cfg.Limits.RPM, cfg.Limits.RPD, cfg.Limits.TPM, cfg.Limits.KeyCooldown))
			} else {
				observability.CLILogger.Warn(fmt.Sprintf("[8/%d] Checking limits... ⚠️  %s", totalChecks, strings.Join(problems, "; ")))
			}
		}

		observability.CLILogger.Info("")
		if allChecks {
			appName := "keyrotor"
			if identity != nil && identity.BinaryName != "" {
				appName = identity.BinaryName
			}
			observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", appName))
		} else {
			observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		observability.CLILogger.Info("")
		observability.CLILogger.Info("=== End Diagnostics ===")
	},
}

func checkStoreLocation(cfg config.StoreConfig, n, total int) bool {
	if cfg.Driver == config.DriverPostgres || strings.TrimSpace(cfg.URL) != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking store... ✅ %s (remote %s)", n, total, store.Describe(cfg), cfg.Driver),
			zap.String("store_driver", cfg.Driver))
		return true
	}

	absPath, _ := filepath.Abs(cfg.Path)
	info, statErr := os.Stat(absPath)
	switch {
	case statErr == nil:
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking store... ✅ %s (%s, %s)", n, total, absPath, cfg.Driver, formatFileSize(info.Size())),
			zap.String("store_path", absPath),
			zap.Int64("store_size", info.Size()))
		return true
	case os.IsNotExist(statErr):
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking store... ⚠️  %s (not created yet)", n, total, absPath),
			zap.String("store_path", absPath))
		return true
	default:
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking store... ⚠️  %s (error: %v)", n, total, absPath, statErr),
			zap.String("store_path", absPath),
			zap.Error(statErr))
		return false
	}
}

func checkPersistedKeys(ctx context.Context, cfg config.StoreConfig, n, total int) bool {
	gw, err := store.Open(ctx, cfg)
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking persisted keys... ⚠️  cannot open store", n, total), zap.Error(err))
		return false
	}
	defer gw.Close() //nolint:errcheck

	records, err := gw.Load(ctx)
	if err != nil {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking persisted keys... ⚠️  snapshot unreadable (server would start empty)", n, total), zap.Error(err))
		return false
	}
	if len(records) == 0 {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking persisted keys... ⚠️  none yet (add keys with 'keys add')", n, total))
		return true
	}

	stats := core.PoolStats{TotalKeys: len(records)}
	var lastUsed time.Time
	for _, r := range records {
		if r.Status == core.KeyStatusActive {
			stats.ActiveKeys++
		} else {
			stats.InactiveKeys++
		}
		if r.LastUsed.After(lastUsed) {
			lastUsed = r.LastUsed
		}
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking persisted keys... ✅ %d keys (%d active, %d inactive, last use %s)",
		n, total, stats.TotalKeys, stats.ActiveKeys, stats.InactiveKeys, formatTimeAgo(lastUsed)),
		zap.Int("total_keys", stats.TotalKeys),
		zap.Int("active_keys", stats.ActiveKeys))
	return true
}

// limitWarnings reports settings that are valid but probably not intended.
func limitWarnings(cfg *config.Config) []string {
	var problems []string
	if cfg.Limits.RPM*24*60 < cfg.Limits.RPD {
		problems = append(problems, "rpd is unreachable at the configured rpm")
	}
	if cfg.Limits.TPM < cfg.Limits.RPM {
		problems = append(problems, "tpm is below a single key's rpm")
	}
	if cfg.Maintenance.CooldownCheckInterval > cfg.Limits.KeyCooldown && cfg.Limits.KeyCooldown > 0 {
		problems = append(problems, "cooldown_check_interval exceeds key_cooldown; reinstatement will lag")
	}
	return problems
}

var (
	doctorInitForce     bool
	doctorInitDriver    string
	doctorInitURL       string
	doctorInitAuthToken string
	doctorResetConfig   bool
	doctorResetData     bool
	doctorResetAll      bool
)

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := doctorConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}

		if _, err := os.Stat(configPath); err == nil && !doctorInitForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
		}

		driver := strings.ToLower(strings.TrimSpace(doctorInitDriver))
		switch driver {
		case config.DriverFile, config.DriverLibsql, config.DriverPostgres:
		default:
			return fmt.Errorf("unsupported store driver %q", doctorInitDriver)
		}
		if driver == config.DriverPostgres && strings.TrimSpace(doctorInitURL) == "" {
			return fmt.Errorf("--store-url is required for the postgres driver")
		}

		token := strings.TrimSpace(doctorInitAuthToken)
		if strings.EqualFold(token, "prompt") {
			value, err := promptForValue(cmd.InOrStdin(), cmd.OutOrStdout(), "Enter store auth token (leave blank to skip): ")
			if err != nil {
				return err
			}
			token = value
		}

		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}

		mode := os.FileMode(0644)
		if token != "" || driver == config.DriverPostgres {
			mode = 0600
		}

		content := buildInitConfig(GetAppIdentity().BinaryName, driver, strings.TrimSpace(doctorInitURL), token)
		if err := os.WriteFile(configPath, []byte(content), mode); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}

		observability.CLILogger.Info("Config initialized", zap.String("path", configPath), zap.String("store_driver", driver))
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration status and paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := doctorConfigPath()
		dataDir := config.DefaultDataDir()

		observability.CLILogger.Info("Configuration:")
		observability.CLILogger.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir != "" {
			observability.CLILogger.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		} else {
			observability.CLILogger.Info("  Data directory: (not resolved)")
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			observability.CLILogger.Warn("Config load failed", zap.Error(err))
			return nil
		}

		observability.CLILogger.Info(fmt.Sprintf("  Store:          %s (%s)", store.Describe(cfg.Store), cfg.Store.Driver))

		prefix := GetAppIdentity().EnvPrefix
		observability.CLILogger.Info("")
		observability.CLILogger.Info("Environment:")
		for _, name := range []string{"STORE_DRIVER", "STORE_PATH", "STORE_URL", "STORE_AUTH_TOKEN", "RPM_LIMIT", "RPD_LIMIT", "TPM_LIMIT", "KEY_COOLDOWN_SECONDS"} {
			observability.CLILogger.Info(fmt.Sprintf("  %s%s: %s", prefix, name, envStatus(prefix+name)))
		}

		observability.CLILogger.Info("")
		observability.CLILogger.Info("Effective Settings:")
		observability.CLILogger.Info(fmt.Sprintf("  limits.rpm: %d", cfg.Limits.RPM))
		observability.CLILogger.Info(fmt.Sprintf("  limits.rpd: %d", cfg.Limits.RPD))
		observability.CLILogger.Info(fmt.Sprintf("  limits.tpm: %d", cfg.Limits.TPM))
		observability.CLILogger.Info(fmt.Sprintf("  limits.key_cooldown: %s", cfg.Limits.KeyCooldown))
		observability.CLILogger.Info(fmt.Sprintf("  maintenance.persist_interval: %s", cfg.Maintenance.PersistInterval))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or data",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}

		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		// Resolve the store before the config file disappears.
		var storeCfg config.StoreConfig
		if doctorResetData {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			storeCfg = cfg.Store
		}

		if doctorResetConfig {
			configPath := doctorConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			if storeCfg.Driver == config.DriverPostgres || strings.TrimSpace(storeCfg.URL) != "" {
				return fmt.Errorf("remote store configured; data reset is not supported")
			}

			absPath, _ := filepath.Abs(storeCfg.Path)
			if err := os.Remove(absPath); err == nil {
				observability.CLILogger.Info("Store removed", zap.String("path", absPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Store already removed", zap.String("path", absPath))
			} else {
				return fmt.Errorf("remove store: %w", err)
			}
		}

		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := doctorConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorInitCmd.Flags().StringVar(&doctorInitDriver, "store-driver", config.DriverFile, "persistence backend: file|libsql|postgres")
	doctorInitCmd.Flags().StringVar(&doctorInitURL, "store-url", "", "store URL (remote libsql or postgres)")
	doctorInitCmd.Flags().StringVar(&doctorInitAuthToken, "auth-token", "", "remote libsql auth token, or 'prompt' to enter it")

	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove local store")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

// doctorConfigPath is the --config file when given, else the XDG default.
func doctorConfigPath() string {
	if strings.TrimSpace(cfgFile) != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// formatFileSize returns a human-readable file size
func formatFileSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// formatTimeAgo returns a human-readable relative time
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func buildInitConfig(binaryName, driver, url, token string) string {
	if binaryName == "" {
		binaryName = "keyrotor"
	}
	lines := []string{
		fmt.Sprintf("# %s config - created by '%s doctor init'", binaryName, binaryName),
		"server:",
		"  host: localhost",
		"  port: 8080",
		"store:",
		"  driver: " + driver,
	}
	if url != "" {
		lines = append(lines, fmt.Sprintf("  url: %q", url))
	}
	if token != "" {
		lines = append(lines, fmt.Sprintf("  auth_token: %q", token))
	} else if driver == config.DriverLibsql {
		lines = append(lines, "  # auth_token: \"\"  # Set via KEYROTOR_STORE_AUTH_TOKEN or uncomment")
	}

	lines = append(lines,
		"limits:",
		"  rpm: 15",
		"  rpd: 1500",
		"  tpm: 1000000",
		"  key_cooldown: 60s",
		"maintenance:",
		"  persist_interval: 15s",
	)

	return strings.Join(lines, "\n") + "\n"
}

func promptForValue(in io.Reader, out io.Writer, prompt string) (string, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return "", err
	}
	reader := bufio.NewReader(in)
	value, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatus(name string) string {
	if strings.TrimSpace(os.Getenv(name)) != "" {
		return "(set)"
	}
	return "(not set)"
}
