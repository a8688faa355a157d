// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package peer implements a voting node: peer registration, ballot counting
// by the leader, leader heartbeats and bully elections.
package peer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/distvote/internal/config"
	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/peer/transport"
	"github.com/ManuGH/distvote/internal/peer/wire"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoLeader       = errors.New("no leader known")
	ErrNotLeader      = errors.New("this node is not the leader")
	ErrAckTimeout     = errors.New("timed out waiting for acknowledgement")
	ErrDuplicateVote  = errors.New("a vote has already been cast with this voter id")
	ErrVoteRejected   = errors.New("vote rejected")
	ErrVoteBuffered   = errors.New("vote buffered until a leader is reachable")
	ErrSessionEnded   = errors.New("session has ended")
	ErrNotStarted     = errors.New("node not started")
	ErrAlreadyStarted = errors.New("node already started")
)

const eventBuffer = 64

// Registry is the part of the registry client a node needs.
type Registry interface {
	CreateSession(ctx context.Context, host string, port int, options []string) (session.ID, error)
	GetSession(ctx context.Context, id session.ID) (session.Session, error)
	UpdateSession(ctx context.Context, id session.ID, p session.Patch) error
	CheckHealth(ctx context.Context) bool
	ChooseRegistry(ctx context.Context) (bool, error)
	// Current names the registry requests go to. It changes on failover.
	Current() string
}

// Timing holds the protocol intervals.
type Timing struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MonitorInterval   time.Duration
	ElectionTimeout   time.Duration
	LeaderWait        time.Duration
	AckTimeout        time.Duration
}

// TimingFromConfig extracts the protocol intervals of cfg.
func TimingFromConfig(cfg config.NodeConfig) Timing {
	return Timing{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		MonitorInterval:   cfg.MonitorInterval,
		ElectionTimeout:   cfg.ElectionTimeout,
		LeaderWait:        cfg.LeaderWait,
		AckTimeout:        cfg.AckTimeout,
	}
}

// Node is one participant of a voting session.
type Node struct {
	host      string
	port      int
	voter     uuid.UUID
	timing    Timing
	registry  Registry
	transport *transport.Transport
	logger    zerolog.Logger
	now       func() time.Time

	events   chan Event
	bullyCh  chan struct{}
	leaderCh chan struct{}

	// reqMu serializes requests that wait for a reply (register, vote).
	reqMu sync.Mutex

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	self          string
	id            int
	peers         map[int]string
	leader        string
	isLeader      bool
	joined        bool
	sessionID     session.ID
	sessionHome   string
	options       []string
	tally         map[string]int
	voters        map[string]struct{}
	votingStarted bool
	votingEnded   bool
	electing      bool
	lastHeartbeat time.Time
	buffered      string
	reply         chan wire.Message
}

// New returns a node that will listen on port and advertise host to peers
// and the registry. Port 0 picks a free port on Start.
func New(host string, port int, voter uuid.UUID, timing Timing, reg Registry, tr *transport.Transport) *Node {
	return &Node{
		host:      host,
		port:      port,
		voter:     voter,
		timing:    timing,
		registry:  reg,
		transport: tr,
		logger:    log.WithComponent("peer"),
		now:       time.Now,
		events:    make(chan Event, eventBuffer),
		bullyCh:   make(chan struct{}, 1),
		leaderCh:  make(chan struct{}, 1),
		id:        1,
		peers:     make(map[int]string),
		tally:     make(map[string]int),
		voters:    make(map[string]struct{}),
	}
}

// Start binds the listener and launches the message loop, the heartbeat
// sender and the heartbeat monitor. They run until ctx is done or Close.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.ctx != nil {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.mu.Unlock()

	ln, err := n.transport.Listen(net.JoinHostPort("", strconv.Itoa(n.port)))
	if err != nil {
		return err
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		n.port = tcp.Port
	}

	runCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.ctx = runCtx
	n.cancel = cancel
	n.self = net.JoinHostPort(n.host, strconv.Itoa(n.port))
	n.lastHeartbeat = n.now()
	n.mu.Unlock()

	n.logger = n.logger.With().Str(log.FieldAddr, n.self).Logger()

	n.goSafe(func() {
		if err := n.transport.Serve(runCtx, ln, n.handle); err != nil {
			n.logger.Error().Err(err).Str(log.FieldEvent, "peer.listener_failed").Msg("peer listener stopped")
		}
	})
	n.goSafe(func() { n.heartbeatLoop(runCtx) })
	n.goSafe(func() { n.monitorLoop(runCtx) })

	n.logger.Info().Str(log.FieldEvent, "peer.started").Msg("node listening")
	return nil
}

// Close stops all background work and waits for it.
func (n *Node) Close() error {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	n.wg.Wait()
	return nil
}

func (n *Node) goSafe(fn func()) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

func (n *Node) runContext() (context.Context, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx == nil {
		return nil, ErrNotStarted
	}
	return n.ctx, nil
}

// Events delivers notifications for the front-end. Slow readers lose events.
func (n *Node) Events() <-chan Event { return n.events }

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.logger.Debug().Int("kind", int(ev.Kind)).Msg("event dropped, front-end is not reading")
	}
}

func (n *Node) notice(cat Category, format string, args ...any) {
	n.emit(Event{Kind: EventNotice, Category: cat, Text: fmt.Sprintf(format, args...)})
}

// Addr returns the advertised host:port of this node.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.self
}

// ID returns this node's id. It is 1 until the leader assigns another.
func (n *Node) ID() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

// IsLeader reports whether this node holds the leader token.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isLeader
}

// Leader returns the address of the current leader, or "" during an election.
func (n *Node) Leader() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leader
}

// SessionID returns the session this node takes part in.
func (n *Node) SessionID() session.ID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionID
}

// Options returns the ballot options of the session.
func (n *Node) Options() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.options)
}

// Peers returns a copy of the peer table, this node included.
func (n *Node) Peers() map[int]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return maps.Clone(n.peers)
}

// VotingStarted reports whether the leader has opened the vote.
func (n *Node) VotingStarted() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.votingStarted
}

// VotingEnded reports whether the leader has closed the vote.
func (n *Node) VotingEnded() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.votingEnded
}

// peerAddrsLocked lists peer addresses in id order.
func (n *Node) peerAddrsLocked() []string {
	ids := slices.Sorted(maps.Keys(n.peers))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, n.peers[id])
	}
	return out
}

// dropAddrLocked removes every peer entry that points at addr.
func (n *Node) dropAddrLocked(addr string) {
	if addr == "" {
		return
	}
	maps.DeleteFunc(n.peers, func(_ int, a string) bool { return a == addr })
	metrics.SetPeers(len(n.peers))
}

func (n *Node) seedOptionsLocked(options []string) {
	n.options = slices.Clone(options)
	for _, o := range options {
		if _, ok := n.tally[o]; !ok {
			n.tally[o] = 0
		}
	}
}

// StartSession registers a new session at the registry with this node as
// leader and id 1.
func (n *Node) StartSession(ctx context.Context, options []string) (session.ID, error) {
	if _, err := n.runContext(); err != nil {
		return "", err
	}
	options = session.NormalizeOptions(options)
	if len(options) == 0 {
		return "", fmt.Errorf("%w: at least one option is required", session.ErrInvalidSession)
	}

	id, err := n.registry.CreateSession(ctx, n.host, n.port, options)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	n.mu.Lock()
	n.sessionID = id
	n.sessionHome = n.registry.Current()
	n.seedOptionsLocked(options)
	n.id = 1
	n.peers = map[int]string{1: n.self}
	n.leader = n.self
	n.isLeader = true
	n.joined = true
	n.mu.Unlock()

	metrics.SetLeader(true)
	metrics.SetPeers(1)
	n.logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldSessionID, string(id)).
		Strs("options", options).
		Msg("started voting session")
	return id, nil
}

// Join looks the session up at the registry and registers with its leader.
func (n *Node) Join(ctx context.Context, id session.ID) error {
	if _, err := n.runContext(); err != nil {
		return err
	}
	s, err := n.registry.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s.Status == session.StatusEnded {
		return ErrSessionEnded
	}

	n.mu.Lock()
	n.sessionID = s.ID
	n.sessionHome = n.registry.Current()
	n.seedOptionsLocked(s.Options)
	n.mu.Unlock()

	return n.RegisterWithLeader(ctx, s.Addr())
}

// RegisterWithLeader announces this node to the leader at addr and waits
// for its acknowledgement.
func (n *Node) RegisterWithLeader(ctx context.Context, addr string) error {
	n.mu.Lock()
	self := n.self
	n.mu.Unlock()

	ack, err := n.request(ctx, addr, wire.Message{Type: wire.TypeRegister, Addr: self})
	if err != nil {
		return fmt.Errorf("register with %s: %w", addr, err)
	}

	n.mu.Lock()
	if ack.ID > 0 {
		n.id = ack.ID
	}
	if n.leader == "" {
		n.leader = addr
	}
	n.joined = true
	n.lastHeartbeat = n.now()
	nodeID := n.id
	n.mu.Unlock()

	n.notice(CategoryAck, "%s", ack.Text)
	n.logger.Info().
		Str(log.FieldEvent, "peer.registered").
		Str(log.FieldLeader, addr).
		Int(log.FieldNodeID, nodeID).
		Msg("registered with leader")
	return nil
}

// request sends m to addr and waits for the ACK, DUPLICATE or REJECTED that
// answers it.
func (n *Node) request(ctx context.Context, addr string, m wire.Message) (wire.Message, error) {
	n.reqMu.Lock()
	defer n.reqMu.Unlock()

	reply := make(chan wire.Message, 1)
	n.mu.Lock()
	n.reply = reply
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.reply = nil
		n.mu.Unlock()
	}()

	if err := n.transport.Send(ctx, addr, m); err != nil {
		return wire.Message{}, err
	}

	timer := time.NewTimer(n.timing.AckTimeout)
	defer timer.Stop()
	select {
	case r := <-reply:
		return r, nil
	case <-timer.C:
		return wire.Message{}, ErrAckTimeout
	case <-ctx.Done():
		return wire.Message{}, ctx.Err()
	}
}

func (n *Node) deliverReply(m wire.Message) {
	n.mu.Lock()
	reply := n.reply
	n.mu.Unlock()
	if reply == nil {
		n.logger.Debug().Str(log.FieldMsgType, string(m.Type)).Msg("reply without pending request")
		return
	}
	select {
	case reply <- m:
	default:
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
