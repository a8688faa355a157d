// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okPing(context.Context) error   { return nil }
func failPing(context.Context) error { return errors.New("store offline") }

func TestManager_HealthIsAlwaysOK(t *testing.T) {
	m := NewManager("v1.2.3")
	m.RegisterChecker(NewPingChecker("store", failPing))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.Empty(t, resp.Checks)
}

func TestManager_HealthVerbose(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(NewPingChecker("store", failPing))

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "store offline", resp.Checks["store"].Error)
}

func TestManager_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus Status
	}{
		{name: "no checkers", wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{name: "healthy store", checkers: []Checker{NewPingChecker("store", okPing)}, wantCode: http.StatusOK, wantStatus: StatusHealthy},
		{name: "failing store", checkers: []Checker{NewPingChecker("store", failPing)}, wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy},
		{
			name:       "optional cache down",
			checkers:   []Checker{NewPingChecker("store", okPing), &PingChecker{name: "cache", ping: failPing, Optional: true}},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("dev")
			for _, c := range tt.checkers {
				m.RegisterChecker(c)
			}
			rec := httptest.NewRecorder()
			m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestPerformStartupChecks(t *testing.T) {
	cfg := config.DefaultRegistryConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "session")
	require.NoError(t, PerformStartupChecks(cfg))
	info, err := os.Stat(cfg.Store.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	cfg.ListenAddr = "no-port"
	assert.Error(t, PerformStartupChecks(cfg))
}
