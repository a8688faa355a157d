// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transport moves wire messages between nodes over TCP, one message
// per connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/peer/wire"
	"github.com/ManuGH/distvote/internal/ratelimit"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Handler processes one inbound message. remote is the connection's source.
type Handler func(ctx context.Context, m wire.Message, remote net.Addr)

// Config tunes a Transport.
type Config struct {
	MaxConns     int
	Rate         rate.Limit
	Burst        int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:     128,
		Rate:         50,
		Burst:        100,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		DialTimeout:  3 * time.Second,
	}
}

// Transport is safe for concurrent use.
type Transport struct {
	cfg     Config
	limiter *ratelimit.Limiter
	dialer  net.Dialer
	logger  zerolog.Logger
}

// New returns a Transport. Zero fields of cfg take their defaults.
func New(cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	if cfg.Rate <= 0 {
		cfg.Rate = def.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	lc := ratelimit.DefaultConfig()
	lc.GlobalRate = 0
	lc.PerKeyRate = cfg.Rate
	lc.PerKeyBurst = cfg.Burst

	return &Transport{
		cfg:     cfg,
		limiter: ratelimit.New(lc),
		dialer:  net.Dialer{Timeout: cfg.DialTimeout},
		logger:  log.WithComponent("transport"),
	}
}

// Listen binds addr. At most MaxConns connections are served at once.
func (t *Transport) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return netutil.LimitListener(ln, t.cfg.MaxConns), nil
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln and
// waits for in-flight handlers.
func (t *Transport) Serve(ctx context.Context, ln net.Listener, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				t.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handleConn(ctx, conn, h)
		}()
	}
}

// ListenAndServe binds addr and serves it until ctx is cancelled.
func (t *Transport) ListenAndServe(ctx context.Context, addr string, h Handler) error {
	ln, err := t.Listen(addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln, h)
}

func (t *Transport) handleConn(ctx context.Context, conn net.Conn, h Handler) {
	defer conn.Close()

	remote := conn.RemoteAddr()
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}
	if !t.limiter.Allow(host) {
		t.logger.Debug().Str(log.FieldPeer, host).Msg("peer rate limited")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	m, err := wire.Decode(conn)
	if err != nil {
		metrics.RecordPeerDrop("decode")
		t.logger.Debug().Err(err).Str(log.FieldPeer, remote.String()).Msg("dropping undecodable message")
		return
	}
	metrics.RecordPeerMessage(string(m.Type), "in")
	h(ctx, m, remote)
}

// Send dials addr and writes a single message.
func (t *Transport) Send(ctx context.Context, addr string, m wire.Message) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := wire.Encode(conn, m); err != nil {
		return fmt.Errorf("send %s to %s: %w", m.Type, addr, err)
	}
	metrics.RecordPeerMessage(string(m.Type), "out")
	return nil
}

// Broadcast sends m to every address except skip. Sends run concurrently and
// a failing peer never stops the others; all failures are returned joined.
func (t *Transport) Broadcast(ctx context.Context, addrs []string, m wire.Message, skip string) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	seen := make(map[string]struct{}, len(addrs))
	for _, addr := range addrs {
		if addr == "" || addr == skip {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		g.Go(func() error {
			if err := t.Send(ctx, addr, m); err != nil {
				t.logger.Debug().Err(err).Str(log.FieldPeer, addr).Str(log.FieldMsgType, string(m.Type)).Msg("broadcast send failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
