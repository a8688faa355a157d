// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the registry starts serving.
func PerformStartupChecks(cfg config.RegistryConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.check").Msg("running pre-flight startup checks")

	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}
	if cfg.MetricsAddr != "" {
		if err := checkListenAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("metrics address check failed: %w", err)
		}
	}

	switch cfg.Store.Backend {
	case config.BackendFile:
		if err := checkWritableDir(logger, cfg.Store.Path); err != nil {
			return fmt.Errorf("session directory check failed: %w", err)
		}
	case config.BackendSQLite, config.BackendBadger:
		if err := checkWritableDir(logger, filepath.Dir(cfg.Store.Path)); err != nil {
			return fmt.Errorf("store directory check failed: %w", err)
		}
	}

	logger.Info().Str(log.FieldEvent, "startup.ok").Msg("all startup checks passed")
	return nil
}

func checkListenAddr(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// checkWritableDir creates dir if needed and verifies a file can be written in it.
func checkWritableDir(logger zerolog.Logger, dir string) error {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".write-probe-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	logger.Debug().Str(log.FieldPath, dir).Msg("directory is writable")
	return nil
}
