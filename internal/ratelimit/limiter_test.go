// SPDX-License-Identifier: MIT

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_PerKeyBurst(t *testing.T) {
	l := New(Config{PerKeyRate: 1, PerKeyBurst: 2})

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "other keys have their own bucket")
}

func TestLimiter_GlobalBucket(t *testing.T) {
	l := New(Config{GlobalRate: 1, GlobalBurst: 1, PerKeyRate: 100, PerKeyBurst: 100})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("b"))
}

func TestLimiter_DropsIdleKeys(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Config{PerKeyRate: 1, PerKeyBurst: 1, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }
	l.lastCleanup = now

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.Len())
}
