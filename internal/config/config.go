// Package config provides configuration management for farmledger.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (DATABASE_URL, SERVER_PORT, ...)
// 3. Default values
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Stock    StockConfig    `mapstructure:"stock"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// RedisConfig contains settings for the stock cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	PoolSize int    `mapstructure:"pool_size"`
}

// StockConfig contains the consistency-engine knobs.
type StockConfig struct {
	// LowStockThreshold is the quantity below which a low-stock advisory is
	// emitted. Advisories are informational and never abort a transaction.
	LowStockThreshold int `mapstructure:"low_stock_threshold"`

	// LockTimeout bounds how long a mutation waits on a contended inventory row.
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	// MaxRetries bounds how many times a transition is retried after a
	// concurrency conflict before the conflict is surfaced to the caller.
	MaxRetries int `mapstructure:"max_retries"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/farmledger")

	// Maps nested config: stock.lock_timeout → STOCK_LOCK_TIMEOUT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.Stock.LowStockThreshold < 0 {
		return fmt.Errorf("stock.low_stock_threshold must not be negative")
	}
	if c.Stock.LockTimeout <= 0 {
		return fmt.Errorf("stock.lock_timeout must be positive")
	}
	if c.Stock.MaxRetries < 0 {
		return fmt.Errorf("stock.max_retries must not be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "farmledger")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "farmledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	// Redis
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 100)

	// Stock engine
	v.SetDefault("stock.low_stock_threshold", 10)
	v.SetDefault("stock.lock_timeout", "3s")
	v.SetDefault("stock.max_retries", 3)

	// Logging
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
