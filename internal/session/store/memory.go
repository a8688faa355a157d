// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"

	"github.com/ManuGH/distvote/internal/session"
)

// MemoryStore keeps sessions in process memory. Records are cloned on the way
// in and out so callers never share slices with the store.
type MemoryStore struct {
	base
	mu       sync.RWMutex
	sessions map[session.ID]session.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		base:     newBase(opts),
		sessions: make(map[session.ID]session.Session),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	return m.create(ctx, s, func(_ context.Context, s session.Session) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.sessions[s.ID]; ok {
			return errIDTaken
		}
		m.sessions[s.ID] = s.Clone()
		return nil
	})
}

func (m *MemoryStore) Get(_ context.Context, id session.ID) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, notFound(id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(_ context.Context) ([]session.Session, error) {
	m.mu.RLock()
	out := make([]session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()
	sortSessions(out)
	return out, nil
}

func (m *MemoryStore) ListIDs(ctx context.Context) ([]session.ID, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	return idsOf(all), nil
}

func (m *MemoryStore) Update(_ context.Context, id session.ID, p session.Patch) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return session.Session{}, notFound(id)
	}
	next, err := m.patch(cur.Clone(), p)
	if err != nil {
		return session.Session{}, err
	}
	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id session.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return notFound(id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
