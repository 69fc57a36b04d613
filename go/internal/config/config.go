// Package config loads watchpartyd settings from a YAML file overlaid with
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/watchparty/go/internal/models"
	"github.com/mcdev12/watchparty/go/internal/videosync"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Port         string                 `yaml:"port"`
	LogLevel     string                 `yaml:"log_level"`
	RoomTimezone string                 `yaml:"room_timezone"`
	Store        StoreConfig            `yaml:"store"`
	NATS         NATSConfig             `yaml:"nats"`
	Sync         videosync.Config       `yaml:"sync"`
	Gateway      GatewayConfig          `yaml:"gateway"`
	Catalog      CatalogConfig          `yaml:"catalog"`
	Events       []models.CalendarEvent `yaml:"events"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
	// Migrate applies the Postgres schema on startup.
	Migrate bool `yaml:"migrate"`
}

// NATSConfig enables lifecycle event publishing and the gateway relay.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Consumer      string `yaml:"consumer"`
}

func (n NATSConfig) Enabled() bool { return n.URL != "" }

type GatewayConfig struct {
	ExitTimeout time.Duration `yaml:"exit_timeout"`
	SendBuffer  int           `yaml:"send_buffer"`
}

type CatalogConfig struct {
	File     string        `yaml:"file"`
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"-"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

func Default() Config {
	return Config{
		Port:         "8080",
		LogLevel:     "info",
		RoomTimezone: "UTC",
		Store: StoreConfig{
			Driver:      DriverMemory,
			RedisURL:    "redis://localhost:6379/0",
			RedisPrefix: "wp",
			Migrate:     true,
		},
		NATS: NATSConfig{
			Stream:        "WATCHPARTY_EVENTS",
			SubjectPrefix: "watchparty.events",
			Consumer:      "watchparty-gateway",
		},
		Sync: videosync.DefaultConfig(),
		Gateway: GatewayConfig{
			ExitTimeout: 10 * time.Second,
			SendBuffer:  256,
		},
		Catalog: CatalogConfig{
			CacheTTL: 5 * time.Minute,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.RoomTimezone = getEnv("ROOM_TIMEZONE", c.RoomTimezone)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.RedisURL = getEnv("REDIS_URL", c.Store.RedisURL)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Catalog.File = getEnv("CATALOG_FILE", c.Catalog.File)
	c.Catalog.URL = getEnv("CALENDAR_API_URL", c.Catalog.URL)
	c.Catalog.APIKey = getEnv("CALENDAR_API_KEY", c.Catalog.APIKey)
	c.Sync.MaxAttempts = getEnvAsInt("SYNC_MAX_ATTEMPTS", c.Sync.MaxAttempts)
	c.Gateway.SendBuffer = getEnvAsInt("GATEWAY_SEND_BUFFER", c.Gateway.SendBuffer)
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverPostgres:
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := time.LoadLocation(c.RoomTimezone); err != nil {
		return fmt.Errorf("room_timezone: %w", err)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Catalog.File == "" && c.Catalog.URL == "" && len(c.Events) == 0 {
		return errors.New("no event catalog configured")
	}
	return nil
}

// Location is the room partition timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.RoomTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
