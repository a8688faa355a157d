// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":12020")
	ListenAddr string `yaml:"-"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// MaxHeaderBytes limits the size of request headers
	MaxHeaderBytes int `yaml:"maxHeaderBytes"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

const (
	defaultListenAddr      = ":12020"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
	minShutdownTimeout     = 3 * time.Second
)

// DefaultServerConfig returns the server settings used when nothing is configured.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      defaultListenAddr,
		ReadTimeout:     defaultReadTimeout,
		WriteTimeout:    defaultWriteTimeout,
		IdleTimeout:     defaultIdleTimeout,
		MaxHeaderBytes:  defaultMaxHeaderBytes,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// applyServerEnv overrides server settings from the environment.
func (l *Loader) applyServerEnv(s *ServerConfig) {
	s.ReadTimeout = l.envDuration("VOTE_SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = l.envDuration("VOTE_SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = l.envDuration("VOTE_SERVER_IDLE_TIMEOUT", s.IdleTimeout)
	if v := l.envInt("VOTE_SERVER_MAX_HEADER_BYTES", s.MaxHeaderBytes); v > 0 {
		s.MaxHeaderBytes = v
	}
	s.ShutdownTimeout = l.envDuration("VOTE_SERVER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	if s.ShutdownTimeout < minShutdownTimeout {
		s.ShutdownTimeout = minShutdownTimeout
	}
}
