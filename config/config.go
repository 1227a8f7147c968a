// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Bindings BindingsConfig `mapstructure:"bindings"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	MasterKey      string `mapstructure:"master_key"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
}

// BindingsConfig controls where model bindings are loaded from. Either a
// YAML file or a SQLite database, never both.
type BindingsConfig struct {
	FilePath   string `mapstructure:"file_path"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// UsageConfig holds usage recording configuration
type UsageConfig struct {
	Backend       string        `mapstructure:"backend"` // "sqlite" or "postgres"
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from environment variables, honoring a local
// .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env file doesn't exist

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("METRICS_ENABLED", true)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("BINDINGS_FILE", "bindings.yaml")
	viper.SetDefault("USAGE_BACKEND", "sqlite")
	viper.SetDefault("USAGE_SQLITE_PATH", "usage.db")
	viper.SetDefault("USAGE_BUFFER_SIZE", 1000)
	viper.SetDefault("USAGE_FLUSH_INTERVAL", "5s")
	viper.SetDefault("USAGE_RETENTION_DAYS", 90)

	viper.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Port:           viper.GetString("PORT"),
			MasterKey:      viper.GetString("MASTER_KEY"),
			MetricsEnabled: viper.GetBool("METRICS_ENABLED"),
		},
		Bindings: BindingsConfig{
			FilePath:   viper.GetString("BINDINGS_FILE"),
			SQLitePath: viper.GetString("BINDINGS_SQLITE_PATH"),
		},
		Usage: UsageConfig{
			Backend:       viper.GetString("USAGE_BACKEND"),
			SQLitePath:    viper.GetString("USAGE_SQLITE_PATH"),
			PostgresDSN:   viper.GetString("USAGE_POSTGRES_DSN"),
			BufferSize:    viper.GetInt("USAGE_BUFFER_SIZE"),
			FlushInterval: viper.GetDuration("USAGE_FLUSH_INTERVAL"),
			RetentionDays: viper.GetInt("USAGE_RETENTION_DAYS"),
		},
		Log: LogConfig{
			Level: viper.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Usage.Backend {
	case "sqlite":
		if c.Usage.SQLitePath == "" {
			return fmt.Errorf("USAGE_SQLITE_PATH is required when USAGE_BACKEND is sqlite")
		}
	case "postgres":
		if c.Usage.PostgresDSN == "" {
			return fmt.Errorf("USAGE_POSTGRES_DSN is required when USAGE_BACKEND is postgres")
		}
	default:
		return fmt.Errorf("unknown usage backend %q (want sqlite or postgres)", c.Usage.Backend)
	}
	if c.Bindings.FilePath == "" && c.Bindings.SQLitePath == "" {
		return fmt.Errorf("either BINDINGS_FILE or BINDINGS_SQLITE_PATH must be set")
	}
	return nil
}
