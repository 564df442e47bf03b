// Package config provides configuration management for toolgate.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for toolgate.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Permission PermissionConfig `mapstructure:"permission"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`     // in seconds
	WriteTimeout    int    `mapstructure:"writeTimeout"`    // in seconds
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// PermissionConfig holds tunables for the permission manager and its
// per-session decision cache.
type PermissionConfig struct {
	// TimeoutSeconds is how long a request may sit pending before it is
	// denied. Plan approvals reuse the same budget.
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`

	// MaxQueueSize bounds the number of simultaneously pending requests.
	MaxQueueSize int `mapstructure:"maxQueueSize"`

	// CleanupIntervalSeconds is how often the manager sweeps for requests
	// stuck past twice the timeout.
	CleanupIntervalSeconds int `mapstructure:"cleanupIntervalSeconds"`

	// CacheMaxEntries bounds the per-session decision cache.
	CacheMaxEntries int `mapstructure:"cacheMaxEntries"`

	// CacheTTLSeconds is how long a cached decision stays valid.
	CacheTTLSeconds int `mapstructure:"cacheTtlSeconds"`
}

// DispatcherConfig holds tunables for the WebSocket dispatcher.
type DispatcherConfig struct {
	// HeartbeatSeconds is the ping sweep interval; a client that has not
	// ponged since the previous sweep is dropped.
	HeartbeatSeconds int `mapstructure:"heartbeatSeconds"`

	// ClientQueueMax bounds the per-client outbound queue (drop-oldest).
	ClientQueueMax int `mapstructure:"clientQueueMax"`

	// MaxPendingAcks caps how many unanswered request ids a single client
	// may accumulate before the oldest are dropped.
	MaxPendingAcks int `mapstructure:"maxPendingAcks"`
}

// MCPConfig holds configuration for the MCP permission-prompt server.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// ShutdownTimeoutDuration returns the shutdown timeout as a time.Duration.
func (s *ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// Timeout returns the permission timeout as a time.Duration.
func (p *PermissionConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// CleanupInterval returns the cleanup interval as a time.Duration.
func (p *PermissionConfig) CleanupInterval() time.Duration {
	return time.Duration(p.CleanupIntervalSeconds) * time.Second
}

// CacheTTL returns the cache TTL as a time.Duration.
func (p *PermissionConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a time.Duration.
func (d *DispatcherConfig) HeartbeatInterval() time.Duration {
	return time.Duration(d.HeartbeatSeconds) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("TOOLGATE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.shutdownTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "toolgate")
	v.SetDefault("nats.maxReconnects", 10)

	// Permission defaults
	v.SetDefault("permission.timeoutSeconds", 30)
	v.SetDefault("permission.maxQueueSize", 100)
	v.SetDefault("permission.cleanupIntervalSeconds", 60)
	v.SetDefault("permission.cacheMaxEntries", 1000)
	v.SetDefault("permission.cacheTtlSeconds", 3600)

	// Dispatcher defaults
	v.SetDefault("dispatcher.heartbeatSeconds", 30)
	v.SetDefault("dispatcher.clientQueueMax", 100)
	v.SetDefault("dispatcher.maxPendingAcks", 1000)

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TOOLGATE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/toolgate/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("server.readTimeout", "TOOLGATE_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "TOOLGATE_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("server.shutdownTimeout", "TOOLGATE_SERVER_SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("permission.timeoutSeconds", "TOOLGATE_PERMISSION_TIMEOUT_SECONDS")
	_ = v.BindEnv("permission.maxQueueSize", "TOOLGATE_PERMISSION_MAX_QUEUE_SIZE")
	_ = v.BindEnv("permission.cleanupIntervalSeconds", "TOOLGATE_PERMISSION_CLEANUP_INTERVAL_SECONDS")
	_ = v.BindEnv("permission.cacheMaxEntries", "TOOLGATE_PERMISSION_CACHE_MAX_ENTRIES")
	_ = v.BindEnv("permission.cacheTtlSeconds", "TOOLGATE_PERMISSION_CACHE_TTL_SECONDS")
	_ = v.BindEnv("dispatcher.heartbeatSeconds", "TOOLGATE_DISPATCHER_HEARTBEAT_SECONDS")
	_ = v.BindEnv("dispatcher.clientQueueMax", "TOOLGATE_DISPATCHER_CLIENT_QUEUE_MAX")
	_ = v.BindEnv("dispatcher.maxPendingAcks", "TOOLGATE_DISPATCHER_MAX_PENDING_ACKS")
	_ = v.BindEnv("nats.clientId", "TOOLGATE_NATS_CLIENT_ID")
	_ = v.BindEnv("nats.maxReconnects", "TOOLGATE_NATS_MAX_RECONNECTS")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/toolgate/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// Permission validation
	if cfg.Permission.TimeoutSeconds <= 0 {
		errs = append(errs, "permission.timeoutSeconds must be positive")
	}
	if cfg.Permission.MaxQueueSize <= 0 {
		errs = append(errs, "permission.maxQueueSize must be positive")
	}
	if cfg.Permission.CleanupIntervalSeconds <= 0 {
		errs = append(errs, "permission.cleanupIntervalSeconds must be positive")
	}
	if cfg.Permission.CacheMaxEntries <= 0 {
		errs = append(errs, "permission.cacheMaxEntries must be positive")
	}
	if cfg.Permission.CacheTTLSeconds <= 0 {
		errs = append(errs, "permission.cacheTtlSeconds must be positive")
	}

	// Dispatcher validation
	if cfg.Dispatcher.HeartbeatSeconds <= 0 {
		errs = append(errs, "dispatcher.heartbeatSeconds must be positive")
	}
	if cfg.Dispatcher.ClientQueueMax <= 0 {
		errs = append(errs, "dispatcher.clientQueueMax must be positive")
	}
	if cfg.Dispatcher.MaxPendingAcks <= 0 {
		errs = append(errs, "dispatcher.maxPendingAcks must be positive")
	}

	// MCP validation - only when enabled
	if cfg.MCP.Enabled && (cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
