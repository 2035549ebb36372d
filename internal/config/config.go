// Package config provides YAML-based configuration loading for the demo
// binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root demo application configuration.
type Config struct {
	// AppName is the logical name of the process, used in log output.
	AppName string `mapstructure:"app_name"`

	// Server holds server-side settings.
	Server ServerConfig `mapstructure:"server"`

	// Client holds client-side settings.
	Client ClientConfig `mapstructure:"client"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// ServerConfig defines where the demo server listens.
type ServerConfig struct {
	// Listen is the TCP address to accept WebSocket connections on.
	Listen string `mapstructure:"listen"`

	// MaxClients caps concurrent connections.
	MaxClients int `mapstructure:"max_clients"`

	// TickRate is how many update ticks run per second.
	TickRate int `mapstructure:"tick_rate"`
}

// ClientConfig defines how the demo client connects.
type ClientConfig struct {
	// URL is the WebSocket server endpoint, e.g. ws://localhost:7447.
	URL string `mapstructure:"url"`

	// Name is the display name announced to the server.
	Name string `mapstructure:"name"`

	// TickRate is how many update ticks run per second.
	TickRate int `mapstructure:"tick_rate"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format: console or json.
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths.
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls file rotation for file outputs.
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options.
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "replibridge",
		Server: ServerConfig{
			Listen:     ":7447",
			MaxClients: 64,
			TickRate:   30,
		},
		Client: ClientConfig{
			URL:      "ws://localhost:7447",
			Name:     "anonymous",
			TickRate: 30,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/replibridge.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty), otherwise
// it searches common locations. Environment variables use the prefix
// REPLIBRIDGE with `.`/`-` replaced by `_`, e.g. REPLIBRIDGE_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REPLIBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Seed defaults so env-only configs work.
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("server.listen", cfg.Server.Listen)
	v.SetDefault("server.max_clients", cfg.Server.MaxClients)
	v.SetDefault("server.tick_rate", cfg.Server.TickRate)
	v.SetDefault("client.url", cfg.Client.URL)
	v.SetDefault("client.name", cfg.Client.Name)
	v.SetDefault("client.tick_rate", cfg.Client.TickRate)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("REPLIBRIDGE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("replibridge")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// A missing config file is fine; defaults and env cover it.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Server.TickRate <= 0 {
		c.Server.TickRate = 30
	}
	if c.Client.TickRate <= 0 {
		c.Client.TickRate = 30
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen must not be empty")
	}
	if strings.TrimSpace(c.Client.URL) == "" {
		return errors.New("client.url must not be empty")
	}
	return nil
}
