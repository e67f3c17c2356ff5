package config

import (
	"time"
)

// Config represents the complete application configuration.
//
// Layers are merged in order: built-in defaults, the user config file
// (~/.config/keyrotor/config.yaml), KEYROTOR_* environment variables, and
// runtime overrides from CLI flags.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Health      HealthConfig      `mapstructure:"health" yaml:"health"`
	Debug       DebugConfig       `mapstructure:"debug" yaml:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
//
// Driver is one of file, libsql, or postgres. Path applies to file and local
// libsql stores; URL applies to remote libsql (Turso) and postgres.
type StoreConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	URL       string `mapstructure:"url" yaml:"url"`
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
	MaxConns  int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// LimitsConfig holds the rate limits enforced by the selector and the
// cooldown applied to deactivated keys.
type LimitsConfig struct {
	// RPM is the per-key requests-per-minute ceiling.
	RPM int64 `mapstructure:"rpm" yaml:"rpm"`
	// RPD is the per-key requests-per-day ceiling.
	RPD int64 `mapstructure:"rpd" yaml:"rpd"`
	// TPM is the pool-wide requests-per-minute ceiling.
	TPM int64 `mapstructure:"tpm" yaml:"tpm"`
	// KeyCooldown is how long a deactivated key stays retired.
	KeyCooldown time.Duration `mapstructure:"key_cooldown" yaml:"key_cooldown"`
	// KeyCooldownSeconds, when positive, overrides KeyCooldown.
	KeyCooldownSeconds int64 `mapstructure:"key_cooldown_seconds" yaml:"key_cooldown_seconds,omitempty"`
}

// MaintenanceConfig sets the cadence of each background job.
type MaintenanceConfig struct {
	PersistInterval        time.Duration `mapstructure:"persist_interval" yaml:"persist_interval"`
	MinuteResetInterval    time.Duration `mapstructure:"minute_reset_interval" yaml:"minute_reset_interval"`
	DayResetInterval       time.Duration `mapstructure:"day_reset_interval" yaml:"day_reset_interval"`
	CooldownCheckInterval  time.Duration `mapstructure:"cooldown_check_interval" yaml:"cooldown_check_interval"`
	AggregateResetInterval time.Duration `mapstructure:"aggregate_reset_interval" yaml:"aggregate_reset_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile" yaml:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the dedicated Prometheus exporter port; /metrics on the main
	// HTTP port proxies to it.
	Port int `mapstructure:"port" yaml:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PprofEnabled exposes /debug/pprof on the main router.
	PprofEnabled bool `mapstructure:"pprof_enabled" yaml:"pprof_enabled"`
}
