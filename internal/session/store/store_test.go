// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newSession(port int, options ...string) session.Session {
	return session.Session{
		Host:    net.ParseIP("192.168.1.10"),
		Port:    port,
		Options: options,
	}
}

type storeFactory func(t *testing.T, opts ...Option) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T, opts ...Option) Store {
			return NewMemoryStore(opts...)
		},
		"file": func(t *testing.T, opts ...Option) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "session"), opts...)
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, opts ...Option) Store {
			s, err := NewSqliteStore(context.Background(), filepath.Join(t.TempDir(), "sessions.db"), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"badger": func(t *testing.T, opts ...Option) Store {
			s, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"), opts...)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("VOTE_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T, opts ...Option) Store {
			s, err := NewPostgresStore(context.Background(), dsn, opts...)
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), "TRUNCATE sessions")
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t, WithClock(fixedClock))

				created, err := s.Create(ctx, newSession(5000, " Pizza ", "pizza", "Tacos"))
				require.NoError(t, err)
				_, err = session.ParseID(string(created.ID))
				require.NoError(t, err)
				assert.Equal(t, []string{"Pizza", "Tacos"}, created.Options)
				assert.Equal(t, fixedNow, created.CreatedAt)

				got, err := s.Get(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, created.ID, got.ID)
				assert.Equal(t, "192.168.1.10", got.Host.String())
				assert.Equal(t, 5000, got.Port)
				assert.Equal(t, created.Options, got.Options)
				assert.True(t, fixedNow.Equal(got.CreatedAt))
			})

			t.Run("create rejects invalid", func(t *testing.T) {
				s := factory(t)
				_, err := s.Create(context.Background(), session.Session{Port: 5000, Options: []string{"a"}})
				assert.ErrorIs(t, err, session.ErrInvalidSession)
			})

			t.Run("get unknown", func(t *testing.T) {
				s := factory(t)
				_, err := s.Get(context.Background(), "ZZZZZZ")
				assert.ErrorIs(t, err, session.ErrNotFound)
			})

			t.Run("list is sorted and complete", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t)

				empty, err := s.List(ctx)
				require.NoError(t, err)
				assert.Empty(t, empty)
				assert.NotNil(t, empty)

				for i := 0; i < 5; i++ {
					_, err := s.Create(ctx, newSession(5000+i, "a", "b"))
					require.NoError(t, err)
				}
				all, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, all, 5)
				for i := 1; i < len(all); i++ {
					assert.Less(t, all[i-1].ID, all[i].ID)
				}

				ids, err := s.ListIDs(ctx)
				require.NoError(t, err)
				require.Len(t, ids, 5)
				for i, sess := range all {
					assert.Equal(t, sess.ID, ids[i])
				}
			})

			t.Run("update changes only host port status", func(t *testing.T) {
				ctx := context.Background()
				later := fixedNow.Add(time.Minute)
				clock := fixedNow
				s := factory(t, WithClock(func() time.Time { return clock }))

				created, err := s.Create(ctx, newSession(5000, "a", "b"))
				require.NoError(t, err)

				clock = later
				port := 6000
				status := session.StatusVoting
				updated, err := s.Update(ctx, created.ID, session.Patch{
					Host:   net.ParseIP("10.1.1.1"),
					Port:   &port,
					Status: &status,
				})
				require.NoError(t, err)
				assert.Equal(t, "10.1.1.1", updated.Host.String())
				assert.Equal(t, 6000, updated.Port)
				assert.Equal(t, session.StatusVoting, updated.Status)
				assert.Equal(t, []string{"a", "b"}, updated.Options)
				assert.True(t, later.Equal(updated.UpdatedAt))

				got, err := s.Get(ctx, created.ID)
				require.NoError(t, err)
				assert.Equal(t, "10.1.1.1", got.Host.String())
				assert.Equal(t, 6000, got.Port)
				assert.Equal(t, session.StatusVoting, got.Status)
				assert.True(t, fixedNow.Equal(got.CreatedAt))
			})

			t.Run("update errors", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t)
				port := 6000
				_, err := s.Update(ctx, "ZZZZZZ", session.Patch{Port: &port})
				assert.ErrorIs(t, err, session.ErrNotFound)

				created, err := s.Create(ctx, newSession(5000, "a"))
				require.NoError(t, err)
				_, err = s.Update(ctx, created.ID, session.Patch{})
				assert.ErrorIs(t, err, session.ErrEmptyPatch)
			})

			t.Run("delete", func(t *testing.T) {
				ctx := context.Background()
				s := factory(t)
				created, err := s.Create(ctx, newSession(5000, "a"))
				require.NoError(t, err)

				require.NoError(t, s.Delete(ctx, created.ID))
				_, err = s.Get(ctx, created.ID)
				assert.ErrorIs(t, err, session.ErrNotFound)
				assert.ErrorIs(t, s.Delete(ctx, created.ID), session.ErrNotFound)
			})

			t.Run("id collision is retried", func(t *testing.T) {
				ctx := context.Background()
				// Two identical draws followed by a different one.
				src := bytes.NewReader(append(append(bytes.Repeat([]byte{0}, 12), 1, 1, 1, 1, 1, 1), bytes.Repeat([]byte{2}, 6)...))
				s := factory(t, WithIDSource(src))

				first, err := s.Create(ctx, newSession(5000, "a"))
				require.NoError(t, err)
				assert.Equal(t, session.ID("AAAAAA"), first.ID)

				second, err := s.Create(ctx, newSession(5001, "a"))
				require.NoError(t, err)
				assert.Equal(t, session.ID("BBBBBB"), second.ID)
			})

			t.Run("ping", func(t *testing.T) {
				assert.NoError(t, factory(t).Ping(context.Background()))
			})
		})
	}
}

func TestStore_ConcurrentCreates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create(ctx, newSession(5000+i, "a"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 50)
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	created, err := s.Create(ctx, newSession(5000, "a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BROKEN.json"), []byte("{not json"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, created.ID, all[0].ID)

	ids, err := s.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []session.ID{"BROKEN", created.ID}, ids)
}

func TestFileStore_ReadsLegacyLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	legacy := `{"id":"ABC123","host":"127.0.0.1","port":5000,"options":["yes","no"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ABC123.json"), []byte(legacy), 0o600))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := s.Get(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, got.Options)
	assert.Equal(t, session.StatusOpen, got.Status)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, cfg := range []config.StoreConfig{
		{Backend: config.BackendMemory},
		{Backend: config.BackendFile, Path: filepath.Join(dir, "files")},
		{Backend: config.BackendSQLite, Path: filepath.Join(dir, "s.db")},
		{Backend: config.BackendBadger, Path: filepath.Join(dir, "badger")},
	} {
		t.Run(cfg.Backend, func(t *testing.T) {
			s, err := Open(ctx, cfg)
			require.NoError(t, err)
			defer s.Close()
			assert.NoError(t, s.Ping(ctx))
		})
	}

	_, err := Open(ctx, config.StoreConfig{Backend: "mongo"})
	assert.ErrorContains(t, err, "unknown store backend")
}
