// Package config provides centralized configuration management for keyrotor.
//
// Layers, lowest precedence first:
// Layer 1: built-in defaults (Defaults)
// Layer 2: user config file (XDG paths via gofulmen/config, or --config)
// Layer 3: KEYROTOR_* environment variables and runtime overrides
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/keyrotor/keyrotor/internal/appid"
)

// Store drivers
const (
	DriverFile     = "file"
	DriverLibsql   = "libsql"
	DriverPostgres = "postgres"
)

var (
	// appConfig holds the current application configuration
	appConfig   *Config
	configMu    sync.RWMutex
	appIdentity *appidentity.Identity

	// configFile, when set, replaces XDG discovery for layer 2.
	configFile string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetConfigFile pins the user config layer to path. An empty path restores
// XDG discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Defaults returns layer 1 as a nested map keyed like the YAML file.
func Defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host":             "localhost",
			"port":             8080,
			"read_timeout":     "30s",
			"write_timeout":    "30s",
			"idle_timeout":     "120s",
			"shutdown_timeout": "10s",
		},
		"store": map[string]any{
			"driver":     DriverFile,
			"path":       "",
			"url":        "",
			"auth_token": "",
			"max_conns":  4,
		},
		"limits": map[string]any{
			"rpm":          15,
			"rpd":          1500,
			"tpm":          1000000,
			"key_cooldown": "60s",
		},
		"maintenance": map[string]any{
			"persist_interval":         "15s",
			"minute_reset_interval":    "60s",
			"day_reset_interval":       "24h",
			"cooldown_check_interval":  "60s",
			"aggregate_reset_interval": "60s",
		},
		"logging": map[string]any{
			"level":   "info",
			"profile": "SIMPLE",
		},
		"metrics": map[string]any{
			"enabled": true,
			"port":    9090,
		},
		"health": map[string]any{
			"enabled": true,
		},
		"debug": map[string]any{
			"enabled":       false,
			"pprof_enabled": false,
		},
	}
}

// Load builds the configuration from all layers.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if appIdentity == nil {
		identity, err := appid.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load app identity: %w", err)
		}
		appIdentity = identity
	}

	merged := Defaults()

	userLayer, err := loadUserLayer()
	if err != nil {
		return nil, err
	}
	mergeMaps(merged, userLayer)

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}
	mergeMaps(merged, envOverrides)

	for _, overrides := range runtimeOverrides {
		mergeMaps(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Limits.KeyCooldownSeconds > 0 {
		cfg.Limits.KeyCooldown = time.Duration(cfg.Limits.KeyCooldownSeconds) * time.Second
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath(cfg.Store.Driver)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)

	return cfg, nil
}

// Validate rejects settings the pool cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Limits.RPM <= 0 {
		problems = append(problems, "limits.rpm must be positive")
	}
	if c.Limits.RPD <= 0 {
		problems = append(problems, "limits.rpd must be positive")
	}
	if c.Limits.TPM <= 0 {
		problems = append(problems, "limits.tpm must be positive")
	}
	if c.Limits.KeyCooldown < 0 {
		problems = append(problems, "limits.key_cooldown must not be negative")
	}

	switch c.Store.Driver {
	case DriverFile, DriverLibsql:
	case DriverPostgres:
		if strings.TrimSpace(c.Store.URL) == "" {
			problems = append(problems, "store.url is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported store driver %q", c.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// loadUserLayer reads the first user config file found. A pinned file that
// does not exist is an error; missing discovered files are not.
func loadUserLayer() (map[string]any, error) {
	configMu.RLock()
	pinned := configFile
	configMu.RUnlock()

	candidates := getUserConfigPaths()
	if pinned != "" {
		candidates = []string{pinned}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path) // #nosec G304 -- user-selected config path
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && pinned == "" {
				continue
			}
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}

		layer := map[string]any{}
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		return layer, nil
	}

	return map[string]any{}, nil
}

// mergeMaps overlays src onto dst, recursing into nested maps.
func mergeMaps(dst, src map[string]any) {
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// getUserConfigPaths returns the list of user config file paths to check
// Uses gofulmen/config for XDG-compliant path discovery
func getUserConfigPaths() []string {
	configName, binaryName := appNamesForPaths()

	legacyNames := []string{}
	if binaryName != configName {
		legacyNames = append(legacyNames, binaryName)
	}

	return gfconfig.GetAppConfigPaths(configName, legacyNames...)
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := "KEYROTOR_"
	if appIdentity != nil && strings.TrimSpace(appIdentity.EnvPrefix) != "" {
		prefix = appIdentity.EnvPrefix
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "STORE_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "STORE_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "STORE_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "STORE_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: prefix + "STORE_MAX_CONNS", Path: []string{"store", "max_conns"}, Type: EnvInt},

		// Limits
		{Name: prefix + "RPM_LIMIT", Path: []string{"limits", "rpm"}, Type: EnvInt},
		{Name: prefix + "RPD_LIMIT", Path: []string{"limits", "rpd"}, Type: EnvInt},
		{Name: prefix + "TPM_LIMIT", Path: []string{"limits", "tpm"}, Type: EnvInt},
		{Name: prefix + "KEY_COOLDOWN", Path: []string{"limits", "key_cooldown"}, Type: EnvString},
		{Name: prefix + "KEY_COOLDOWN_SECONDS", Path: []string{"limits", "key_cooldown_seconds"}, Type: EnvInt},

		// Maintenance cadence
		{Name: prefix + "PERSIST_INTERVAL", Path: []string{"maintenance", "persist_interval"}, Type: EnvString},
		{Name: prefix + "MINUTE_RESET_INTERVAL", Path: []string{"maintenance", "minute_reset_interval"}, Type: EnvString},
		{Name: prefix + "DAY_RESET_INTERVAL", Path: []string{"maintenance", "day_reset_interval"}, Type: EnvString},
		{Name: prefix + "COOLDOWN_CHECK_INTERVAL", Path: []string{"maintenance", "cooldown_check_interval"}, Type: EnvString},
		{Name: prefix + "AGGREGATE_RESET_INTERVAL", Path: []string{"maintenance", "aggregate_reset_interval"}, Type: EnvString},

		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

// appNamesForPaths returns the config name and binary name from app identity,
// falling back to "keyrotor" if not set.
func appNamesForPaths() (configName string, binaryName string) {
	configName = "keyrotor"
	binaryName = "keyrotor"
	if appIdentity == nil {
		return configName, binaryName
	}

	if strings.TrimSpace(appIdentity.ConfigName) != "" {
		configName = appIdentity.ConfigName
	}
	if strings.TrimSpace(appIdentity.BinaryName) != "" {
		binaryName = appIdentity.BinaryName
	}
	return configName, binaryName
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configName, _ := appNamesForPaths()
	configDir := gfconfig.GetAppConfigDir(configName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	configName, _ := appNamesForPaths()
	return gfconfig.GetAppDataDir(configName)
}

// DefaultStorePath returns the XDG-compliant location of the persisted pool
// for driver: keys.json for the file store, <binary>.db for libsql, and
// nothing for postgres.
func DefaultStorePath(driver string) string {
	_, binaryName := appNamesForPaths()

	var name string
	switch driver {
	case DriverPostgres:
		return ""
	case DriverLibsql:
		name = binaryName + ".db"
	default:
		name = "keys.json"
	}

	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + name
	}
	return filepath.Join(dataDir, name)
}
