package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/console"
	xglog "github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/peer"
	"github.com/ManuGH/distvote/internal/peer/identity"
	"github.com/ManuGH/distvote/internal/peer/transport"
	"github.com/ManuGH/distvote/internal/registryclient"
	"github.com/ManuGH/distvote/internal/version"
)

// setup loads configuration and identity and wires the console to the
// registry client and a node factory.
func setup(g globalOptions, opts console.Options) (*console.Console, error) {
	loader := config.NewLoader(strings.TrimSpace(g.configPath), version.Version)
	cfg, err := loader.LoadNode()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if g.verbose {
		level = "debug"
	}
	xglog.Configure(xglog.Config{
		Level:   level,
		Format:  cfg.Log.Format,
		Output:  os.Stderr,
		Service: "distvote-node",
		Version: version.Version,
	})
	logger := xglog.WithComponent("node")

	voter, err := identity.Load(cfg.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("load machine identity: %w", err)
	}
	logger.Debug().Str("event", "identity.loaded").Str("voter", voter.String()).Msg("machine identity loaded")

	reg, err := registryclient.New(registryclient.Config{
		Registries: cfg.Registries,
		Timeout:    cfg.RegistryTimeout,
		Retries:    cfg.RegistryRetries,
	})
	if err != nil {
		return nil, err
	}

	tr := transport.New(transport.Config{
		MaxConns:    cfg.MaxConns,
		Rate:        rate.Limit(cfg.PeerRate),
		Burst:       cfg.PeerBurst,
		DialTimeout: cfg.DialTimeout,
	})
	timing := peer.TimingFromConfig(cfg)
	newNode := func(port int) (console.Voter, error) {
		return peer.New(cfg.AdvertiseHost, port, voter, timing, reg, tr), nil
	}

	opts.NoColor = g.noColor || cfg.NoColor
	opts.Verbose = g.verbose
	return console.New(os.Stdin, os.Stdout, reg, newNode, opts), nil
}
