// SPDX-License-Identifier: MIT

package peer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ManuGH/distvote/internal/registry"
	"github.com/ManuGH/distvote/internal/registryclient"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/ManuGH/distvote/internal/session/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(registry.NewServer(st, nil, registry.Options{DisableMetrics: true}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// The client fails over inside OpenVoting's status update; the watchdog must
// still notice that the session lives on the dead registry.
func TestNode_RecreatesSessionAfterClientFailover(t *testing.T) {
	ctx := context.Background()
	primary := newRegistryServer(t, store.NewMemoryStore())
	secondaryStore := store.NewMemoryStore()
	secondary := newRegistryServer(t, secondaryStore)

	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)
	client, err := registryclient.New(registryclient.Config{
		Registries: []string{primary.URL, secondary.URL},
		Timeout:    500 * time.Millisecond,
		Retries:    1,
		HTTPClient: &http.Client{Transport: tr},
	})
	require.NoError(t, err)

	leader := startNode(t, client, uuid.New())
	id, err := leader.StartSession(ctx, []string{"x", "y"})
	require.NoError(t, err)

	primary.Close()
	require.NoError(t, leader.OpenVoting(ctx))
	assert.Equal(t, secondary.URL, client.Current())

	assert.Eventually(t, func() bool { return leader.SessionID() != id }, waitFor, 20*time.Millisecond)
	moved := leader.SessionID()

	got, err := secondaryStore.Get(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, got.Options)
	assert.Equal(t, leader.Addr(), got.Addr())

	ids, err := secondaryStore.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []session.ID{moved}, ids, "recreated exactly once")
}
