// Package config provides configuration management for SparkQ.
// A YAML file seeds defaults at startup; after first run the database's
// config table is authoritative for runtime settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the default config file looked up next to the process.
const ConfigFileName = "sparkq.yml"

// EnvConfigPath overrides config file resolution when set.
const EnvConfigPath = "SPARKQ_CONFIG"

// Config holds all configuration sections for SparkQ.
type Config struct {
	Server      ServerConfig             `mapstructure:"server"`
	Database    DatabaseConfig           `mapstructure:"database"`
	Purge       PurgeConfig              `mapstructure:"purge"`
	QueueRunner QueueRunnerConfig        `mapstructure:"queue_runner"`
	NATS        NATSConfig               `mapstructure:"nats"`
	Logging     LoggingConfig            `mapstructure:"logging"`
	TaskClasses map[string]TaskClassSeed `mapstructure:"task_classes"`
	Tools       map[string]ToolSeed      `mapstructure:"tools"`

	// Dir is the directory the config file was loaded from (or the working
	// directory when no file was found). Relative paths resolve against it.
	Dir string `mapstructure:"-"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ReadTimeout    int    `mapstructure:"read_timeout"`    // in seconds
	WriteTimeout   int    `mapstructure:"write_timeout"`   // in seconds
	RequestTimeout int    `mapstructure:"request_timeout"` // per-request deadline, seconds
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"` // SQLite file, resolved relative to the config file
	Mode string `mapstructure:"mode"` // journal mode: wal or delete
}

// PurgeConfig controls retention of terminal tasks.
type PurgeConfig struct {
	OlderThanDays   int `mapstructure:"older_than_days"`
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// QueueRunnerConfig holds settings consumed by the reapers and advertised to
// runners.
type QueueRunnerConfig struct {
	AutoFailIntervalSeconds int `mapstructure:"auto_fail_interval_seconds"`
	PollInterval            int `mapstructure:"poll_interval"` // advisory; consumed by runners
}

// NATSConfig holds event bus configuration. An empty URL selects the
// in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// TaskClassSeed seeds a task class on first run.
type TaskClassSeed struct {
	Timeout     int    `mapstructure:"timeout"` // default timeout in seconds
	Description string `mapstructure:"description"`
}

// ToolSeed seeds a tool registration on first run.
type ToolSeed struct {
	Description string `mapstructure:"description"`
	TaskClass   string `mapstructure:"task_class"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-request deadline as a time.Duration.
func (s *ServerConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

// Addr returns the host:port bind address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ResolvedPath returns the database path resolved against the config dir.
func (c *Config) ResolvedPath() string {
	if filepath.IsAbs(c.Database.Path) || c.Dir == "" {
		return c.Database.Path
	}
	return filepath.Join(c.Dir, c.Database.Path)
}

// AutoFailInterval returns the auto-fail reaper tick as a time.Duration.
func (c *Config) AutoFailInterval() time.Duration {
	return time.Duration(c.QueueRunner.AutoFailIntervalSeconds) * time.Second
}

// PurgeInterval returns the purge reaper tick as a time.Duration.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.Purge.IntervalSeconds) * time.Second
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5005)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.request_timeout", 30)

	// Database defaults
	v.SetDefault("database.path", "sparkq/data/sparkq.db")
	v.SetDefault("database.mode", "wal")

	// Retention defaults
	v.SetDefault("purge.older_than_days", 3)
	v.SetDefault("purge.interval_seconds", 3600)

	// Reaper / runner defaults
	v.SetDefault("queue_runner.auto_fail_interval_seconds", 30)
	v.SetDefault("queue_runner.poll_interval", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.client_id", "sparkq")
	v.SetDefault("nats.max_reconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.output_path", "stdout")
}

// detectDefaultLogFormat returns "json" in production environments and
// "text" for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("SPARKQ_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// Load reads configuration using the default resolution order:
// SPARKQ_CONFIG env var, then sparkq.yml in the current directory, then the
// parent directory (project root).
func Load() (*Config, error) {
	return LoadWithPath(os.Getenv(EnvConfigPath))
}

// LoadWithPath reads configuration from an explicit file path, or from the
// default locations when the path is empty.
func LoadWithPath(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variables: SPARKQ_SERVER_PORT etc.
	v.SetEnvPrefix("SPARKQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if used := v.ConfigFileUsed(); used != "" {
		cfg.Dir = filepath.Dir(used)
	} else if wd, err := os.Getwd(); err == nil {
		cfg.Dir = wd
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	switch strings.ToLower(cfg.Database.Mode) {
	case "wal", "delete":
	default:
		errs = append(errs, "database.mode must be one of: wal, delete")
	}
	if cfg.Purge.OlderThanDays <= 0 {
		errs = append(errs, "purge.older_than_days must be positive")
	}
	if cfg.QueueRunner.AutoFailIntervalSeconds <= 0 {
		errs = append(errs, "queue_runner.auto_fail_interval_seconds must be positive")
	}

	for name, tc := range cfg.TaskClasses {
		if tc.Timeout <= 0 {
			errs = append(errs, fmt.Sprintf("task_classes.%s.timeout must be positive", name))
		}
	}
	// Tool seeds may reference classes that already exist in the database,
	// so only the presence of a class name is checked here.
	for name, tool := range cfg.Tools {
		if tool.TaskClass == "" {
			errs = append(errs, fmt.Sprintf("tools.%s.task_class is required", name))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
