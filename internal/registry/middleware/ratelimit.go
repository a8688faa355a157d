// SPDX-License-Identifier: MIT

package middleware

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	// Zero or less disables limiting.
	RequestLimit int
	// WindowSize is the time window for rate limiting
	WindowSize time.Duration
	// KeyFunc extracts the rate limit key from the request. Defaults to the client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit creates a sliding-window rate limiting middleware using httprate.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 || cfg.WindowSize <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			retry := int(cfg.WindowSize.Seconds())
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`))
		}),
	)
}

// DynamicRateLimit is a rate limiter whose limits can be replaced while the
// server runs. Counters restart on every Update.
type DynamicRateLimit struct {
	current atomic.Pointer[func(http.Handler) http.Handler]
	cfg     atomic.Pointer[RateLimitConfig]
}

// NewDynamicRateLimit creates a limiter starting with cfg.
func NewDynamicRateLimit(cfg RateLimitConfig) *DynamicRateLimit {
	d := &DynamicRateLimit{}
	d.Update(cfg)
	return d
}

// Update swaps in new limits. A config equal to the active one is ignored.
func (d *DynamicRateLimit) Update(cfg RateLimitConfig) {
	if old := d.cfg.Load(); old != nil && old.RequestLimit == cfg.RequestLimit && old.WindowSize == cfg.WindowSize {
		return
	}
	mw := RateLimit(cfg)
	d.current.Store(&mw)
	d.cfg.Store(&cfg)
}

// Handler returns the middleware.
func (d *DynamicRateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*d.current.Load())(next).ServeHTTP(w, r)
	})
}
