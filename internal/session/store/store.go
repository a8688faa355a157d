// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists registry sessions. Every backend satisfies Store
// with identical semantics; the registry picks one at startup via Open.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ManuGH/distvote/internal/session"
)

// Store is the session persistence contract.
type Store interface {
	// Create assigns a fresh ID to s, stores it and returns the stored record.
	Create(ctx context.Context, s session.Session) (session.Session, error)
	// Get returns session.ErrNotFound for unknown IDs.
	Get(ctx context.Context, id session.ID) (session.Session, error)
	// List returns all sessions ordered by ID.
	List(ctx context.Context) ([]session.Session, error)
	// ListIDs returns all session IDs in ascending order.
	ListIDs(ctx context.Context) ([]session.ID, error)
	// Update applies p and returns the updated record.
	Update(ctx context.Context, id session.ID, p session.Patch) (session.Session, error)
	Delete(ctx context.Context, id session.ID) error
	// Ping reports whether the backend is usable.
	Ping(ctx context.Context) error
	Close() error
}

// maxCreateAttempts bounds ID regeneration on collisions.
const maxCreateAttempts = 8

var (
	errIDTaken = errors.New("session id already taken")
	// ErrIDSpaceExhausted is returned when no free ID was found.
	ErrIDSpaceExhausted = errors.New("could not allocate a free session id")
)

// Option customizes a store.
type Option func(*base)

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithIDSource overrides the randomness used for new session IDs.
func WithIDSource(r io.Reader) Option {
	return func(b *base) { b.rnd = r }
}

// base carries the behavior shared by all backends.
type base struct {
	now func() time.Time
	rnd io.Reader
}

func newBase(opts []Option) base {
	b := base{now: time.Now}
	for _, o := range opts {
		o(&b)
	}
	return b
}

// prepare validates s and normalizes it into the shape that gets stored.
func (b base) prepare(s session.Session) (session.Session, error) {
	s = s.Clone()
	s.Options = session.NormalizeOptions(s.Options)
	if err := s.Validate(); err != nil {
		return session.Session{}, err
	}
	now := b.now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	return s, nil
}

// create runs insert with fresh IDs until one is free.
func (b base) create(ctx context.Context, s session.Session, insert func(context.Context, session.Session) error) (session.Session, error) {
	s, err := b.prepare(s)
	if err != nil {
		return session.Session{}, err
	}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return session.Session{}, err
		}
		id, err := session.NewID(b.rnd)
		if err != nil {
			return session.Session{}, err
		}
		s.ID = id
		err = insert(ctx, s)
		if errors.Is(err, errIDTaken) {
			continue
		}
		if err != nil {
			return session.Session{}, err
		}
		return s, nil
	}
	return session.Session{}, ErrIDSpaceExhausted
}

// patch validates p and applies it to cur.
func (b base) patch(cur session.Session, p session.Patch) (session.Session, error) {
	if err := p.Validate(); err != nil {
		return session.Session{}, err
	}
	cur.Apply(p, b.now().UTC())
	return cur, nil
}

func sortSessions(ss []session.Session) {
	sort.Slice(ss, func(i, j int) bool { return ss[i].ID < ss[j].ID })
}

func idsOf(ss []session.Session) []session.ID {
	ids := make([]session.ID, len(ss))
	for i, s := range ss {
		ids[i] = s.ID
	}
	return ids
}

func notFound(id session.ID) error {
	return fmt.Errorf("%w: %s", session.ErrNotFound, id)
}
