// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// blockingManager satisfies Manager and returns when ctx is done.
type blockingManager struct {
	ready chan struct{}
}

func newBlockingManager() *blockingManager {
	return &blockingManager{ready: make(chan struct{})}
}

func (m *blockingManager) Start(ctx context.Context) error {
	close(m.ready)
	<-ctx.Done()
	return nil
}
func (m *blockingManager) Shutdown(context.Context) error            { return nil }
func (m *blockingManager) RegisterShutdownHook(string, ShutdownHook) {}
func (m *blockingManager) Ready() <-chan struct{}                    { return m.ready }
func (m *blockingManager) APIAddr() string                           { return "" }

func TestApp_MissingManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_ReloadOnSignalPath(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o600))

	loader := config.NewLoader(path, "test")
	initial, err := loader.LoadRegistry()
	require.NoError(t, err)
	holder := config.NewConfigHolder(initial, loader)

	applied := make(chan config.RegistryConfig, 1)
	mgr := newBlockingManager()
	app := NewApp(log.WithComponent("test"), mgr, holder, func(cfg config.RegistryConfig) {
		select {
		case applied <- cfg:
		default:
		}
	})
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.Ready()

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))
	require.NoError(t, holder.Reload(ctx))

	select {
	case cfg := <-applied:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not applied")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
