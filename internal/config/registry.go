// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store backends understood by the registry.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// RegistryConfig is the full configuration of the session registry service.
type RegistryConfig struct {
	ListenAddr  string          `yaml:"listenAddr"`
	MetricsAddr string          `yaml:"metricsAddr"`
	Server      ServerConfig    `yaml:"server"`
	Store       StoreConfig     `yaml:"store"`
	Cache       CacheConfig     `yaml:"cache"`
	RateLimit   RateLimitConfig `yaml:"rateLimit"`
	Tracing     TracingConfig   `yaml:"tracing"`
	Log         LogConfig       `yaml:"log"`
}

// StoreConfig selects and locates the session store.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	DSN     string `yaml:"dsn"`
}

// CacheConfig configures the session read cache.
// An empty RedisAddr selects the in-process cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	TTL           time.Duration `yaml:"ttl"`
}

// RateLimitConfig bounds requests per client IP.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// TracingConfig configures OpenTelemetry export. An empty Exporter disables tracing.
type TracingConfig struct {
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// DefaultRegistryConfig returns the registry defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ListenAddr: defaultListenAddr,
		Server:     DefaultServerConfig(),
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "session",
		},
		Cache: CacheConfig{TTL: 30 * time.Second},
		RateLimit: RateLimitConfig{
			Requests: 600,
			Window:   time.Minute,
		},
		Tracing: TracingConfig{SamplingRate: 1.0},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (l *Loader) applyRegistryEnv(cfg *RegistryConfig) {
	cfg.ListenAddr = l.envString("VOTE_REGISTRY_LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = l.envString("VOTE_METRICS_ADDR", cfg.MetricsAddr)
	l.applyServerEnv(&cfg.Server)

	cfg.Store.Backend = strings.ToLower(l.envString("VOTE_STORE_BACKEND", cfg.Store.Backend))
	cfg.Store.Path = l.envString("VOTE_STORE_PATH", cfg.Store.Path)
	cfg.Store.DSN = l.envString("VOTE_STORE_DSN", cfg.Store.DSN)

	cfg.Cache.RedisAddr = l.envString("VOTE_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = l.envString("VOTE_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = l.envInt("VOTE_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TTL = l.envDuration("VOTE_CACHE_TTL", cfg.Cache.TTL)

	cfg.RateLimit.Requests = l.envInt("VOTE_RATE_LIMIT", cfg.RateLimit.Requests)
	cfg.RateLimit.Window = l.envDuration("VOTE_RATE_WINDOW", cfg.RateLimit.Window)

	cfg.Tracing.Exporter = strings.ToLower(l.envString("VOTE_TRACING_EXPORTER", cfg.Tracing.Exporter))
	cfg.Tracing.Endpoint = l.envString("VOTE_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = l.envFloat("VOTE_TRACING_SAMPLING_RATE", cfg.Tracing.SamplingRate)

	l.applyLogEnv(&cfg.Log)
	cfg.Server.ListenAddr = cfg.ListenAddr
}

func (l *Loader) applyLogEnv(c *LogConfig) {
	c.Level = l.envString("VOTE_LOG_LEVEL", c.Level)
	c.Format = l.envString("VOTE_LOG_FORMAT", c.Format)
	c.File = l.envString("VOTE_LOG_FILE", c.File)
}

// ValidateRegistry checks a registry configuration and reports every problem at once.
func ValidateRegistry(cfg RegistryConfig) error {
	var errs []error
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		errs = append(errs, fmt.Errorf("listenAddr: %w", ErrRequired))
	}
	switch cfg.Store.Backend {
	case BackendFile, BackendSQLite, BackendBadger:
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store.path: %w for backend %q", ErrRequired, cfg.Store.Backend))
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store.dsn: %w for backend %q", ErrRequired, cfg.Store.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend: %w: %q", ErrInvalidValue, cfg.Store.Backend))
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl: %w: must not be negative", ErrInvalidValue))
	}
	if cfg.RateLimit.Requests < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.requests: %w: must not be negative", ErrInvalidValue))
	}
	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.Window <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window: %w: must be positive", ErrInvalidValue))
	}
	switch cfg.Tracing.Exporter {
	case "", "grpc", "http":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter: %w: %q", ErrInvalidValue, cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.samplingRate: %w: must be within [0,1]", ErrInvalidValue))
	}
	if err := validateLog(cfg.Log); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateLog(c LogConfig) error {
	if c.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
			return fmt.Errorf("log.level: %w: %q", ErrInvalidValue, c.Level)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "console":
		return nil
	}
	return fmt.Errorf("log.format: %w: %q", ErrInvalidValue, c.Format)
}
