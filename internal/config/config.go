package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Platforms []string        `yaml:"platforms"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection settings for the archive tier
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the Redis connection settings for the current-period tier
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig holds the two-tier cache policy knobs
type CacheConfig struct {
	StalenessMinutes int `yaml:"staleness_minutes"` // max acceptable age of current-period data
	RetentionMonths  int `yaml:"retention_months"`  // rolling validation horizon
}

// StalenessThreshold returns the configured staleness window as a duration
func (c CacheConfig) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessMinutes) * time.Minute
}

// RefreshConfig holds background collector scheduling and retry policy
type RefreshConfig struct {
	IntervalMinutes   int `yaml:"interval_minutes"`    // scheduled run cadence
	BatchSize         int `yaml:"batch_size"`          // tenants processed concurrently
	BatchPauseSeconds int `yaml:"batch_pause_seconds"` // pause between batches
	MaxAttempts       int `yaml:"max_attempts"`        // bounded retry count per job
	BackoffBaseMS     int `yaml:"backoff_base_ms"`     // base for exponential backoff
}

// Interval returns the scheduled refresh cadence as a duration
func (c RefreshConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// BatchPause returns the inter-batch pause as a duration
func (c RefreshConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseSeconds) * time.Second
}

// BackoffBase returns the base backoff delay as a duration
func (c RefreshConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// UpstreamConfig holds the per-fetch timeout for ad platform calls
type UpstreamConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	UseStub        bool `yaml:"use_stub"` // serve deterministic fake data (dev only)
}

// Timeout returns the configured fetch timeout as a duration
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Cache.StalenessMinutes == 0 {
		cfg.Cache.StalenessMinutes = 180 // 3 hours
	}
	if cfg.Cache.RetentionMonths == 0 {
		cfg.Cache.RetentionMonths = 37
	}
	if cfg.Refresh.IntervalMinutes == 0 {
		cfg.Refresh.IntervalMinutes = 180
	}
	if cfg.Refresh.BatchSize == 0 {
		cfg.Refresh.BatchSize = 2
	}
	if cfg.Refresh.BatchPauseSeconds == 0 {
		cfg.Refresh.BatchPauseSeconds = 5
	}
	if cfg.Refresh.MaxAttempts == 0 {
		cfg.Refresh.MaxAttempts = 4
	}
	if cfg.Refresh.BackoffBaseMS == 0 {
		cfg.Refresh.BackoffBaseMS = 500
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 30
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = []string{"meta", "google"}
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CACHE_STALENESS_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.StalenessMinutes = n
		}
	}
	if v := os.Getenv("REFRESH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Refresh.BatchSize = n
		}
	}
	if v := os.Getenv("UPSTREAM_USE_STUB"); v != "" {
		cfg.Upstream.UseStub = v == "1" || v == "true"
	}

	return cfg, nil
}
