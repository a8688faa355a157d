// SPDX-License-Identifier: MIT

package registryclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/distvote/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistry answers like the session registry for a single session.
type fakeRegistry struct {
	*httptest.Server
	healthy  atomic.Bool
	fail5xx  atomic.Bool
	hits     atomic.Int32
	lastBody atomic.Value
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{}
	f.healthy.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `"pong"`)
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if f.fail5xx.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.lastBody.Store(string(body))
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `"ABC123"`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `[{"id":"ABC123","host":"10.0.0.1","port":5000,"options":["yes","no"],"status":"voting"}]`)
		}
	})
	mux.HandleFunc("GET /sessions/all", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"sessions":["ABC123"]}`)
	})
	mux.HandleFunc("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		if r.PathValue("id") != "ABC123" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"session_not_found"}`)
			return
		}
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"id":"ABC123","host":"10.0.0.1","port":5000,"options":["yes","no"],"status":"voting"}`)
		case http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			f.lastBody.Store(string(body))
			_, _ = io.WriteString(w, `{"id":"ABC123","host":"10.0.0.1","port":5000,"options":["yes","no"]}`)
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func newClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	c, err := New(Config{Registries: urls, Timeout: time.Second, Retries: 2, BreakerThreshold: 100})
	require.NoError(t, err)
	return c
}

// deadURL returns the URL of a server that has already been shut down.
func deadURL() string {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	return srv.URL
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Registries: []string{"localhost:12020"}})
	assert.Error(t, err)

	c, err := New(Config{Registries: []string{"http://a:1/", "http://a:1", "https://b:2"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:1", "https://b:2"}, c.Registries())
	assert.Equal(t, "http://a:1", c.Current())
}

func TestClient_SessionOperations(t *testing.T) {
	reg := newFakeRegistry(t)
	c := newClient(t, reg.URL)
	ctx := context.Background()

	id, err := c.CreateSession(ctx, "10.0.0.1", 5000, []string{"yes", "no"})
	require.NoError(t, err)
	assert.Equal(t, session.ID("ABC123"), id)
	assert.JSONEq(t, `{"host":"10.0.0.1","port":5000,"options":["yes","no"]}`, reg.lastBody.Load().(string))

	all, err := c.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "10.0.0.1:5000", all[0].Addr())

	ids, err := c.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []session.ID{"ABC123"}, ids)

	opts, err := c.VotingOptions(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, opts)

	status, err := c.SessionStatus(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, session.StatusVoting, status)

	ended := session.StatusEnded
	require.NoError(t, c.UpdateSession(ctx, "ABC123", session.Patch{Status: &ended}))
	var patch map[string]any
	require.NoError(t, json.Unmarshal([]byte(reg.lastBody.Load().(string)), &patch))
	assert.Equal(t, map[string]any{"status": "ended"}, patch)

	assert.ErrorIs(t, c.UpdateSession(ctx, "ABC123", session.Patch{}), session.ErrEmptyPatch)
}

func TestClient_NotFoundIsNotRetried(t *testing.T) {
	reg := newFakeRegistry(t)
	c := newClient(t, reg.URL)

	_, err := c.GetSession(context.Background(), "ZZZZZZ")
	assert.ErrorIs(t, err, session.ErrNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, int32(1), reg.hits.Load())
}

func TestClient_RetriesThenFailsOver(t *testing.T) {
	primary := newFakeRegistry(t)
	backup := newFakeRegistry(t)
	primary.fail5xx.Store(true)
	primary.healthy.Store(false)

	c := newClient(t, primary.URL, backup.URL)
	all, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.Equal(t, int32(2), primary.hits.Load(), "primary gets every retry")
	assert.Equal(t, int32(1), backup.hits.Load())
	assert.Equal(t, backup.URL, c.Current())
}

func TestClient_FailsOverFromDeadRegistry(t *testing.T) {
	backup := newFakeRegistry(t)
	c := newClient(t, deadURL(), backup.URL)

	id, err := c.CreateSession(context.Background(), "10.0.0.1", 5000, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, session.ID("ABC123"), id)
	assert.Equal(t, backup.URL, c.Current())
}

func TestClient_UnavailableWhenAllDown(t *testing.T) {
	c := newClient(t, deadURL(), deadURL())

	_, err := c.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, c.CheckHealth(context.Background()))
}

func TestChooseRegistry_PrefersConfigurationOrder(t *testing.T) {
	first := newFakeRegistry(t)
	second := newFakeRegistry(t)
	third := newFakeRegistry(t)
	first.healthy.Store(false)

	c := newClient(t, first.URL, second.URL, third.URL)

	changed, err := c.ChooseRegistry(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, second.URL, c.Current())

	changed, err = c.ChooseRegistry(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	first.healthy.Store(true)
	changed, err = c.ChooseRegistry(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, first.URL, c.Current())
	assert.True(t, c.CheckHealth(context.Background()))
}

func TestClient_BreakerStopsHammering(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.fail5xx.Store(true)
	reg.healthy.Store(false)

	c, err := New(Config{Registries: []string{reg.URL}, Timeout: time.Second, Retries: 3, BreakerThreshold: 2, BreakerReset: time.Hour})
	require.NoError(t, err)

	_, err = c.ListSessions(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), reg.hits.Load(), "breaker opens after the threshold")
}
