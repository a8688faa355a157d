// SPDX-License-Identifier: MIT

// Package ratelimit bounds how often a single remote may reach a node.
package ratelimit

import (
	"sync"
	"time"

	"github.com/ManuGH/distvote/internal/metrics"
	"golang.org/x/time/rate"
)

// Config holds rate limiting configuration
type Config struct {
	// Global limits across all remotes. Zero disables the global bucket.
	GlobalRate  rate.Limit
	GlobalBurst int

	// Per-key limits, keyed by remote IP.
	PerKeyRate  rate.Limit
	PerKeyBurst int

	// Idle per-key limiters are dropped after this long.
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults for peer traffic.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  500,
		GlobalBurst: 1000,
		PerKeyRate:  50,
		PerKeyBurst: 100,
		IdleTTL:     5 * time.Minute,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per key plus an optional global bucket.
type Limiter struct {
	config Config
	now    func() time.Time

	global *rate.Limiter
	mu     sync.Mutex
	perKey map[string]*entry

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}
	l := &Limiter{
		config:      config,
		now:         time.Now,
		perKey:      make(map[string]*entry),
		lastCleanup: time.Now(),
	}
	if config.GlobalRate > 0 {
		l.global = rate.NewLimiter(config.GlobalRate, config.GlobalBurst)
	}
	return l
}

// Allow reports whether one more event from key fits the limits.
func (l *Limiter) Allow(key string) bool {
	if l.global != nil && !l.global.Allow() {
		metrics.RecordPeerDrop("rate_limited_global")
		return false
	}
	if !l.keyLimiter(key).Allow() {
		metrics.RecordPeerDrop("rate_limited")
		return false
	}
	return true
}

func (l *Limiter) keyLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	e, ok := l.perKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.config.PerKeyRate, l.config.PerKeyBurst)}
		l.perKey[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// cleanupLocked drops limiters that have been idle longer than IdleTTL.
func (l *Limiter) cleanupLocked(now time.Time) {
	if now.Sub(l.lastCleanup) < l.config.IdleTTL {
		return
	}
	for k, e := range l.perKey {
		if now.Sub(e.lastSeen) >= l.config.IdleTTL {
			delete(l.perKey, k)
		}
	}
	l.lastCleanup = now
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perKey)
}
