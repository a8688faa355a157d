// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// NodeConfig is the configuration of a voting peer node.
type NodeConfig struct {
	Registries    []string `yaml:"registries"`
	AdvertiseHost string   `yaml:"advertiseHost"`
	Port          int      `yaml:"port"`

	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout"`
	MonitorInterval   time.Duration `yaml:"monitorInterval"`
	ElectionTimeout   time.Duration `yaml:"electionTimeout"`
	LeaderWait        time.Duration `yaml:"leaderWait"`
	AckTimeout        time.Duration `yaml:"ackTimeout"`
	DialTimeout       time.Duration `yaml:"dialTimeout"`

	RegistryTimeout time.Duration `yaml:"registryTimeout"`
	RegistryRetries int           `yaml:"registryRetries"`

	// MaxConns caps concurrently served inbound peer connections.
	MaxConns int `yaml:"maxConns"`
	// PeerRate and PeerBurst bound inbound messages per remote IP.
	PeerRate  float64 `yaml:"peerRate"`
	PeerBurst int     `yaml:"peerBurst"`

	IdentityFile string    `yaml:"identityFile"`
	NoColor      bool      `yaml:"noColor"`
	Log          LogConfig `yaml:"log"`
}

// DefaultNodeConfig returns the node defaults.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		Registries:        []string{"http://localhost:12020"},
		AdvertiseHost:     DefaultAdvertiseHost(),
		HeartbeatInterval: 3 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MonitorInterval:   5 * time.Second,
		ElectionTimeout:   5 * time.Second,
		LeaderWait:        3 * time.Second,
		AckTimeout:        10 * time.Second,
		DialTimeout:       3 * time.Second,
		RegistryTimeout:   5 * time.Second,
		RegistryRetries:   3,
		MaxConns:          128,
		PeerRate:          50,
		PeerBurst:         100,
		IdentityFile:      defaultIdentityFile(),
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

func defaultIdentityFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".uuid", "uuid.txt")
	}
	return filepath.Join(home, ".uuid", "uuid.txt")
}

// DefaultAdvertiseHost returns the first non-loopback IPv4 address of this
// machine, or 127.0.0.1 when none is found.
func DefaultAdvertiseHost() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.To4() == nil {
			continue
		}
		return ipn.IP.String()
	}
	return "127.0.0.1"
}

func (l *Loader) applyNodeEnv(cfg *NodeConfig) {
	cfg.Registries = l.envList("VOTE_REGISTRIES", cfg.Registries)
	cfg.AdvertiseHost = l.envString("VOTE_ADVERTISE_HOST", cfg.AdvertiseHost)
	cfg.Port = l.envInt("VOTE_PORT", cfg.Port)

	cfg.HeartbeatInterval = l.envDuration("VOTE_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.HeartbeatTimeout = l.envDuration("VOTE_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.MonitorInterval = l.envDuration("VOTE_MONITOR_INTERVAL", cfg.MonitorInterval)
	cfg.ElectionTimeout = l.envDuration("VOTE_ELECTION_TIMEOUT", cfg.ElectionTimeout)
	cfg.LeaderWait = l.envDuration("VOTE_LEADER_WAIT", cfg.LeaderWait)
	cfg.AckTimeout = l.envDuration("VOTE_ACK_TIMEOUT", cfg.AckTimeout)
	cfg.DialTimeout = l.envDuration("VOTE_DIAL_TIMEOUT", cfg.DialTimeout)

	cfg.RegistryTimeout = l.envDuration("VOTE_REGISTRY_TIMEOUT", cfg.RegistryTimeout)
	cfg.RegistryRetries = l.envInt("VOTE_REGISTRY_RETRIES", cfg.RegistryRetries)

	cfg.MaxConns = l.envInt("VOTE_MAX_CONNS", cfg.MaxConns)
	cfg.PeerRate = l.envFloat("VOTE_PEER_RATE", cfg.PeerRate)
	cfg.PeerBurst = l.envInt("VOTE_PEER_BURST", cfg.PeerBurst)

	cfg.IdentityFile = l.envString("VOTE_IDENTITY_FILE", cfg.IdentityFile)
	cfg.NoColor = l.envBool("VOTE_NO_COLOR", cfg.NoColor)
	l.applyLogEnv(&cfg.Log)
}

// ValidateNode checks a node configuration. Port 0 is allowed and means the
// port is asked for interactively.
func ValidateNode(cfg NodeConfig) error {
	var errs []error
	if len(cfg.Registries) == 0 {
		errs = append(errs, fmt.Errorf("registries: %w", ErrRequired))
	}
	for _, r := range cfg.Registries {
		u, err := url.Parse(r)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("registries: %w: %q", ErrInvalidValue, r))
		}
	}
	if strings.TrimSpace(cfg.AdvertiseHost) == "" {
		errs = append(errs, fmt.Errorf("advertiseHost: %w", ErrRequired))
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port: %w: %d", ErrInvalidValue, cfg.Port))
	}
	for name, d := range map[string]time.Duration{
		"heartbeatInterval": cfg.HeartbeatInterval,
		"heartbeatTimeout":  cfg.HeartbeatTimeout,
		"monitorInterval":   cfg.MonitorInterval,
		"electionTimeout":   cfg.ElectionTimeout,
		"leaderWait":        cfg.LeaderWait,
		"ackTimeout":        cfg.AckTimeout,
		"dialTimeout":       cfg.DialTimeout,
		"registryTimeout":   cfg.RegistryTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w: must be positive", name, ErrInvalidValue))
		}
	}
	if cfg.HeartbeatTimeout > 0 && cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeatTimeout: %w: must exceed heartbeatInterval", ErrInvalidValue))
	}
	if cfg.RegistryRetries < 1 {
		errs = append(errs, fmt.Errorf("registryRetries: %w: must be at least 1", ErrInvalidValue))
	}
	if cfg.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("maxConns: %w: must be at least 1", ErrInvalidValue))
	}
	if cfg.PeerRate <= 0 || cfg.PeerBurst < 1 {
		errs = append(errs, fmt.Errorf("peerRate/peerBurst: %w: must be positive", ErrInvalidValue))
	}
	if strings.TrimSpace(cfg.IdentityFile) == "" {
		errs = append(errs, fmt.Errorf("identityFile: %w", ErrRequired))
	}
	if err := validateLog(cfg.Log); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
