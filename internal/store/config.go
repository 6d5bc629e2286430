package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"gateway"`
	Engine struct {
		TradingIntervalMs  int `yaml:"trading_interval_ms"`
		SyncIntervalMs     int `yaml:"sync_interval_ms"`
		MaxSessions        int `yaml:"max_sessions"`
		SessionStaleMins   int `yaml:"session_stale_minutes"`
		CacheExpireSeconds int `yaml:"cache_expire_seconds"`
		OrderTimeoutSecs   int `yaml:"order_timeout_seconds"`
	} `yaml:"engine"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.Name == "" {
		return errors.New("database.host and database.name are required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required")
	}
	if c.Engine.TradingIntervalMs < 0 || c.Engine.SyncIntervalMs < 0 {
		return fmt.Errorf("engine intervals must not be negative, got trading=%d sync=%d",
			c.Engine.TradingIntervalMs, c.Engine.SyncIntervalMs)
	}
	if c.Engine.MaxSessions < 0 {
		return fmt.Errorf("engine.max_sessions must not be negative, got %d", c.Engine.MaxSessions)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	return nil
}

// applyDefaults fills optional settings with the values the engine ran with
// before they were configurable.
func (c *Config) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 30
	}
	if c.Engine.TradingIntervalMs == 0 {
		c.Engine.TradingIntervalMs = 5000
	}
	if c.Engine.SyncIntervalMs == 0 {
		c.Engine.SyncIntervalMs = 5000
	}
	if c.Engine.MaxSessions == 0 {
		c.Engine.MaxSessions = 10
	}
	if c.Engine.SessionStaleMins == 0 {
		c.Engine.SessionStaleMins = 60
	}
	if c.Engine.CacheExpireSeconds == 0 {
		c.Engine.CacheExpireSeconds = 3600
	}
	if c.Engine.OrderTimeoutSecs == 0 {
		c.Engine.OrderTimeoutSecs = 300
	}
	if c.Server.Port == 0 {
		c.Server.Port = 18080
	}
}

// DSN builds the Postgres connection string for the pgx pool.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s",
		c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User, c.Database.Password)
}

func (c *Config) TradingInterval() time.Duration {
	return time.Duration(c.Engine.TradingIntervalMs) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Engine.SyncIntervalMs) * time.Millisecond
}

func (c *Config) SessionStaleAfter() time.Duration {
	return time.Duration(c.Engine.SessionStaleMins) * time.Minute
}

func (c *Config) CacheExpire() time.Duration {
	return time.Duration(c.Engine.CacheExpireSeconds) * time.Second
}

func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Engine.OrderTimeoutSecs) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
