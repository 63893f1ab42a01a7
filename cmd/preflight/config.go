package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Domain     string           `mapstructure:"domain"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Docker     DockerConfig     `mapstructure:"docker"`
	Log        LogConfig        `mapstructure:"log"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Images     ImagesConfig     `mapstructure:"images"`
	SSL        SSLConfig        `mapstructure:"ssl"`
	Activation ActivationConfig `mapstructure:"activation"`
	Compose    ComposeConfig    `mapstructure:"compose"`
}

// DatabaseConfig holds run history database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RegistryConfig holds registry API configuration.
type RegistryConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Credential    string        `mapstructure:"credential"`
	KnownImage    string        `mapstructure:"known_image"`
	LoginAttempts int           `mapstructure:"login_attempts"`
	RetryWait     time.Duration `mapstructure:"retry_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// ImagesConfig holds image acquisition configuration.
type ImagesConfig struct {
	Manifest     string        `mapstructure:"manifest"`
	RegistryHost string        `mapstructure:"registry_host"`
	PullAttempts int           `mapstructure:"pull_attempts"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	UseLatest    bool          `mapstructure:"use_latest"`
	AllowMissing bool          `mapstructure:"allow_missing"`
}

// SSLConfig holds certificate provisioning configuration.
type SSLConfig struct {
	Path string `mapstructure:"path"`
	Name string `mapstructure:"name"`
	Mode string `mapstructure:"mode"`
}

// ActivationConfig holds service activation configuration.
type ActivationConfig struct {
	Network       string        `mapstructure:"network"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	HealthTimeout time.Duration `mapstructure:"health_timeout"`
	ForceReplace  bool          `mapstructure:"force_replace"`
	KeepExisting  bool          `mapstructure:"keep_existing"`
}

// ComposeConfig holds the service declaration location.
type ComposeConfig struct {
	File string `mapstructure:"file"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("domain", "localhost")
	v.SetDefault("database.dsn", "./data/preflight.db")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("registry.base_url", "")
	v.SetDefault("registry.credential", "")
	v.SetDefault("registry.known_image", "")
	v.SetDefault("registry.login_attempts", 3)
	v.SetDefault("registry.retry_wait", "2s")
	v.SetDefault("registry.timeout", "30s")

	v.SetDefault("images.manifest", "./images.yaml")
	v.SetDefault("images.registry_host", "")
	v.SetDefault("images.pull_attempts", 3)
	v.SetDefault("images.retry_wait", "2s")
	v.SetDefault("images.use_latest", false)
	v.SetDefault("images.allow_missing", false)

	v.SetDefault("ssl.path", "./data/ssl")
	v.SetDefault("ssl.name", "server")
	v.SetDefault("ssl.mode", "auto")

	v.SetDefault("activation.network", "preflight")
	v.SetDefault("activation.poll_interval", "10s")
	v.SetDefault("activation.health_timeout", "300s")
	v.SetDefault("activation.force_replace", false)
	v.SetDefault("activation.keep_existing", false)

	v.SetDefault("compose.file", "./docker-compose.yml")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("PREFLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
