// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_EnforcesLimit(t *testing.T) {
	h := RateLimit(RateLimitConfig{RequestLimit: 3, WindowSize: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "192.168.1.1").Code, "request %d", i+1)
	}
	w := hit(h, "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limit_exceeded","detail":"Too many requests. Please try again later."}`, w.Body.String())

	// Other clients keep their own budget.
	assert.Equal(t, http.StatusOK, hit(h, "192.168.1.2").Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	h := RateLimit(RateLimitConfig{})(okHandler())
	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	}
}

func TestDynamicRateLimit_Update(t *testing.T) {
	d := NewDynamicRateLimit(RateLimitConfig{RequestLimit: 1, WindowSize: time.Minute})
	h := d.Handler(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1").Code)

	d.Update(RateLimitConfig{RequestLimit: 5, WindowSize: time.Minute})
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1").Code)
}
