// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ManuGH/distvote/internal/cache"
	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/daemon"
	"github.com/ManuGH/distvote/internal/health"
	xglog "github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/registry"
	"github.com/ManuGH/distvote/internal/registry/middleware"
	"github.com/ManuGH/distvote/internal/session/store"
	"github.com/ManuGH/distvote/internal/telemetry"
	"github.com/ManuGH/distvote/internal/version"
)

const serviceName = "distvote-registry"

type serveOptions struct {
	configPath string
	listen     string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registry HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "API listen address, overrides the config file")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	loader := config.NewLoader(strings.TrimSpace(opts.configPath), version.Version)
	cfg, err := loader.LoadRegistry()
	if err != nil {
		xglog.Configure(xglog.Config{Level: "info", Service: serviceName, Version: version.Version})
		logger := xglog.WithComponent("registry")
		logger.Error().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", loader.Path()).
			Msg("failed to load configuration")
		return err
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
		cfg.Server.ListenAddr = opts.listen
	}

	out, closeLog, err := logOutput(cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()
	xglog.Configure(xglog.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  out,
		Service: serviceName,
		Version: version.Version,
	})
	logger := xglog.WithComponent("registry")

	if loader.Path() != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", loader.Path()).Msg("loaded configuration from file")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Error().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed")
		return err
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return err
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewPingChecker("store", st.Ping))

	limiter := middleware.NewDynamicRateLimit(middleware.RateLimitConfig{
		RequestLimit: cfg.RateLimit.Requests,
		WindowSize:   cfg.RateLimit.Window,
	})
	tracingService := ""
	if cfg.Tracing.Exporter != "" {
		tracingService = serviceName
	}
	srv := registry.NewServer(st, hm, registry.Options{
		TracingService: tracingService,
		RateLimit:      limiter,
	})

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		APIHandler:     srv.Handler(),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.MetricsAddr,
	})
	if err != nil {
		_ = st.Close()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("create daemon: %w", err)
	}
	// Hooks run LIFO: tracer flushes after the store is closed.
	mgr.RegisterShutdownHook("tracer", tp.Shutdown)
	mgr.RegisterShutdownHook("store", func(context.Context) error { return st.Close() })

	holder := config.NewConfigHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, func(next config.RegistryConfig) {
		if err := xglog.SetLevel(next.Log.Level); err != nil {
			logger.Warn().Err(err).Str("event", "config.log_level_invalid").Msg("keeping previous log level")
		}
		limiter.Update(middleware.RateLimitConfig{
			RequestLimit: next.RateLimit.Requests,
			WindowSize:   next.RateLimit.Window,
		})
	})

	logger.Info().
		Str("event", "registry.starting").
		Str("listen", cfg.ListenAddr).
		Str("store", cfg.Store.Backend).
		Msg("starting session registry")
	return app.Run(ctx)
}

// openStore opens the configured backend and puts the read cache in front of it.
func openStore(ctx context.Context, cfg config.RegistryConfig, logger zerolog.Logger) (store.Store, error) {
	backend, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var c cache.Cache
	switch {
	case cfg.Cache.TTL <= 0:
		c = cache.NewNoOpCache()
	case cfg.Cache.RedisAddr != "":
		rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, logger)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		c = rc
	default:
		c = cache.NewMemoryCache(time.Minute)
	}
	return store.NewCachedStore(backend, c, cfg.Cache.TTL), nil
}

func logOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
