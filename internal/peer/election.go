package peer

import (
	"context"
	"maps"
	"net"
	"slices"
	"time"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/peer/wire"
	"github.com/ManuGH/distvote/internal/session"
)

// StartElection runs the bully algorithm. It returns once a leader is known
// or ctx is done. Concurrent calls join the running election.
func (n *Node) StartElection(ctx context.Context) {
	n.mu.Lock()
	if n.electing || n.isLeader {
		n.mu.Unlock()
		return
	}
	n.electing = true
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.electing = false
		n.mu.Unlock()
	}()

	metrics.RecordElection("started")
	n.notice(CategoryElection, "Initiating election...")
	n.logger.Info().Str(log.FieldEvent, "election.started").Msg("starting bully election")

	for {
		n.mu.Lock()
		if n.leader != "" && n.leader != n.self {
			n.dropAddrLocked(n.leader)
		}
		n.leader = ""
		myID, self := n.id, n.self
		var higher []string
		for _, id := range slices.Sorted(maps.Keys(n.peers)) {
			if id > myID {
				higher = append(higher, n.peers[id])
			}
		}
		n.mu.Unlock()
		drain(n.bullyCh)
		drain(n.leaderCh)

		if len(higher) == 0 {
			n.notice(CategoryElection, "Node %d is the highest id. Declaring myself as leader.", myID)
			n.takeLeadership(ctx)
			return
		}

		_ = n.transport.Broadcast(ctx, higher, wire.Message{Type: wire.TypeElection, From: myID, Addr: self}, self)

		bullied, done := n.awaitBully(ctx)
		if done {
			return
		}
		if !bullied {
			n.notice(CategoryElection, "Node %d received no response. Declaring myself as leader.", myID)
			n.takeLeadership(ctx)
			return
		}

		n.notice(CategoryElection, "Node %d was bullied. Waiting for the new leader.", myID)
		metrics.RecordElection("bullied")
		select {
		case <-n.leaderCh:
			metrics.RecordElection("lost")
			return
		case <-time.After(n.timing.LeaderWait):
			n.logger.Info().Str(log.FieldEvent, "election.restart").Msg("no leader announced, restarting election")
		case <-ctx.Done():
			return
		}
	}
}

// awaitBully waits one election timeout. done is true when the election
// ended without this node, either by a leader announcement or ctx.
func (n *Node) awaitBully(ctx context.Context) (bullied, done bool) {
	timer := time.NewTimer(n.timing.ElectionTimeout)
	defer timer.Stop()
	select {
	case <-n.bullyCh:
		return true, false
	case <-n.leaderCh:
		metrics.RecordElection("lost")
		return false, true
	case <-timer.C:
		return false, false
	case <-ctx.Done():
		return false, true
	}
}

// takeLeadership makes this node the leader, announces it to every peer,
// points the registry session at this node and counts a buffered ballot.
func (n *Node) takeLeadership(ctx context.Context) {
	n.mu.Lock()
	n.isLeader = true
	n.leader = n.self
	n.peers[n.id] = n.self
	myID, self, sid := n.id, n.self, n.sessionID
	addrs := n.peerAddrsLocked()
	started, ended := n.votingStarted, n.votingEnded
	pending := n.buffered
	n.buffered = ""
	n.mu.Unlock()

	metrics.SetLeader(true)
	metrics.RecordElection("won")
	n.logger.Info().
		Str(log.FieldEvent, "election.won").
		Int(log.FieldNodeID, myID).
		Msg("took the leader token")

	_ = n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeLeader, From: myID, Addr: self}, self)

	if sid != "" {
		ip := net.ParseIP(n.host)
		port := n.port
		p := session.Patch{Port: &port}
		if ip != nil {
			p.Host = ip
		}
		if err := n.registry.UpdateSession(ctx, sid, p); err != nil {
			n.logger.Warn().Err(err).Str(log.FieldSessionID, string(sid)).Msg("could not move session to the new leader")
		}
	}

	n.emit(Event{Kind: EventBecameLeader, Leader: self, Text: "Leader token set.",
		SessionID: sid, VotingStarted: started, VotingEnded: ended})

	if pending != "" {
		err := n.CastVote(ctx, pending)
		n.emit(Event{Kind: EventVoteResult, Err: err, Text: pending})
	}
}

// heartbeatLoop sends heartbeats while this node leads and checks the
// registry on the same tick.
func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(n.timing.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n.mu.Lock()
		leader, myID, self := n.isLeader, n.id, n.self
		addrs := n.peerAddrsLocked()
		n.mu.Unlock()
		if !leader {
			continue
		}

		if len(addrs) > 1 {
			_ = n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeHeartbeat, From: myID, Addr: self}, self)
			metrics.RecordHeartbeat("out")
			n.notice(CategoryHeartbeat, "Sending heartbeat...")
		}
		n.checkRegistry(ctx)
	}
}

// monitorLoop starts an election when a joined follower hears no heartbeat
// for HeartbeatTimeout.
func (n *Node) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(n.timing.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n.mu.Lock()
		stale := n.joined && !n.isLeader && !n.electing && !n.votingEnded &&
			n.now().Sub(n.lastHeartbeat) > n.timing.HeartbeatTimeout
		n.mu.Unlock()
		if !stale {
			continue
		}

		metrics.RecordHeartbeat("missed")
		n.notice(CategoryElection, "No heartbeat received. Starting election.")
		n.logger.Warn().Str(log.FieldEvent, "heartbeat.missed").Msg("leader heartbeat timed out")
		n.StartElection(ctx)
	}
}

// checkRegistry moves the session to another registry when the one that
// holds it is gone. The client may already have failed over during an
// ordinary request, so the session's registry is compared with the current
// one instead of relying on ChooseRegistry's answer. The new registry issues
// a new code.
func (n *Node) checkRegistry(ctx context.Context) {
	n.mu.Lock()
	sid, home, options := n.sessionID, n.sessionHome, slices.Clone(n.options)
	started, ended := n.votingStarted, n.votingEnded
	n.mu.Unlock()
	if sid == "" {
		return
	}

	if !n.registry.CheckHealth(ctx) {
		if _, err := n.registry.ChooseRegistry(ctx); err != nil {
			n.logger.Warn().Err(err).Str(log.FieldEvent, "registry.unavailable").Msg("no registry reachable")
			return
		}
	}
	current := n.registry.Current()
	if current == home {
		return
	}

	id, err := n.registry.CreateSession(ctx, n.host, n.port, options)
	if err != nil {
		n.logger.Warn().Err(err).Str(log.FieldRegistry, current).Msg("could not recreate session on the new registry")
		return
	}
	switch {
	case ended:
		n.setRegistryStatus(ctx, id, session.StatusEnded)
	case started:
		n.setRegistryStatus(ctx, id, session.StatusVoting)
	}

	n.mu.Lock()
	n.sessionID = id
	n.sessionHome = current
	n.mu.Unlock()

	n.logger.Warn().
		Str(log.FieldEvent, "session.moved").
		Str("old_session_id", string(sid)).
		Str(log.FieldSessionID, string(id)).
		Str(log.FieldRegistry, current).
		Msg("session recreated on another registry")
	n.emit(Event{Kind: EventSessionMoved, SessionID: id, Text: "Session code updated! Share this code: " + string(id)})
}
