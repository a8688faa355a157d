// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registryclient talks to one of several session registries, failing
// over to the next healthy one when the current registry stops answering.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/resilience"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout          = 5 * time.Second
	defaultRetries          = 3
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 15 * time.Second
	maxResponseBytes        = 1 << 20
)

// Config configures a Client.
type Config struct {
	// Registries are base URLs in priority order.
	Registries []string
	// Timeout bounds every single request.
	Timeout time.Duration
	// Retries is the number of attempts against one registry before failing over.
	Retries int

	BreakerThreshold int
	BreakerReset     time.Duration

	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	http     *http.Client
	urls     []string
	timeout  time.Duration
	retries  int
	breakers map[string]*resilience.CircuitBreaker
	logger   zerolog.Logger

	mu      sync.RWMutex
	current int
}

// New validates the registry URLs and builds a client. The first URL is current.
func New(cfg Config) (*Client, error) {
	if len(cfg.Registries) == 0 {
		return nil, errors.New("registryclient: at least one registry URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = defaultBreakerThreshold
	}
	if cfg.BreakerReset <= 0 {
		cfg.BreakerReset = defaultBreakerReset
	}

	c := &Client{
		http:     cfg.HTTPClient,
		timeout:  cfg.Timeout,
		retries:  cfg.Retries,
		breakers: make(map[string]*resilience.CircuitBreaker, len(cfg.Registries)),
		logger:   log.WithComponent("registryclient"),
	}
	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone())}
	}

	for _, raw := range cfg.Registries {
		base, err := normalizeURL(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := c.breakers[base]; dup {
			continue
		}
		c.urls = append(c.urls, base)
		c.breakers[base] = resilience.NewCircuitBreaker("registry:"+base, cfg.BreakerThreshold, cfg.BreakerReset,
			resilience.WithFailureFilter(retryable))
	}
	return c, nil
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("registryclient: invalid registry URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("registryclient: registry URL %q must be absolute http(s)", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Current returns the base URL of the registry in use.
func (c *Client) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.urls[c.current]
}

// Registries returns the configured base URLs in priority order.
func (c *Client) Registries() []string {
	return append([]string(nil), c.urls...)
}

// CheckHealth pings the current registry.
func (c *Client) CheckHealth(ctx context.Context) bool {
	return c.ping(ctx, c.Current()) == nil
}

// ChooseRegistry pings every registry concurrently and makes the first healthy
// one, in configuration order, current. It reports whether the current
// registry changed and returns ErrUnavailable when none is healthy.
func (c *Client) ChooseRegistry(ctx context.Context) (bool, error) {
	healthy := make([]bool, len(c.urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, base := range c.urls {
		g.Go(func() error {
			healthy[i] = c.ping(gctx, base) == nil
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range healthy {
		if !ok {
			continue
		}
		c.mu.Lock()
		prev := c.current
		c.current = i
		c.mu.Unlock()

		if prev == i {
			return false, nil
		}
		metrics.RecordRegistryFailover()
		c.logger.Warn().
			Str(log.FieldEvent, "registry.failover").
			Str("from", c.urls[prev]).
			Str(log.FieldRegistry, c.urls[i]).
			Msg("switched session registry")
		return true, nil
	}
	return false, ErrUnavailable
}

func (c *Client) ping(ctx context.Context, base string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// do sends one logical request. Transport failures and 5xx answers are retried
// against the current registry; after that the client fails over once.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	err := c.attemptAll(ctx, c.Current(), method, path, body, out)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		c.record(op, err)
		return err
	}

	c.logger.Warn().Err(err).
		Str(log.FieldEvent, "registry.unreachable").
		Str(log.FieldRegistry, c.Current()).
		Str("op", op).
		Msg("registry request failed, choosing another registry")

	if _, cerr := c.ChooseRegistry(ctx); cerr != nil {
		c.record(op, cerr)
		return fmt.Errorf("%s: %w", op, errors.Join(cerr, err))
	}
	err = c.attemptAll(ctx, c.Current(), method, path, body, out)
	c.record(op, err)
	return err
}

func (c *Client) record(op string, err error) {
	outcome := "success"
	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se):
		outcome = fmt.Sprintf("http_%d", se.Code)
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	metrics.RecordRegistryRequest(op, outcome)
}

func (c *Client) attemptAll(ctx context.Context, base, method, path string, body []byte, out any) error {
	var err error
	for i := 0; i < c.retries; i++ {
		err = c.breakers[base].Execute(func() error {
			return c.attempt(ctx, base, method, path, body, out)
		})
		if err == nil || !retryable(err) || errors.Is(err, resilience.ErrCircuitOpen) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (c *Client) attempt(ctx context.Context, base, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read registry response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode registry response: %w", err)
	}
	return nil
}
