package peer

import (
	"context"
	"errors"
	"maps"
	"net"
	"slices"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/peer/wire"
)

// handle dispatches one inbound message.
func (n *Node) handle(ctx context.Context, m wire.Message, remote net.Addr) {
	n.logger.Debug().
		Str(log.FieldMsgType, string(m.Type)).
		Str(log.FieldPeer, remote.String()).
		Int("from", m.From).
		Msg("message received")

	switch m.Type {
	case wire.TypeRegister:
		n.onRegister(ctx, m)
	case wire.TypeUpdatePeers:
		n.onUpdatePeers(m)
	case wire.TypeAck, wire.TypeDuplicate, wire.TypeRejected:
		n.deliverReply(m)
	case wire.TypeVote:
		n.onVote(ctx, m)
	case wire.TypeUpdateTally:
		n.onUpdateTally(m)
	case wire.TypeStartVoting:
		n.onStartVoting(m)
	case wire.TypeVotingEnded:
		n.onVotingEnded(m)
	case wire.TypeHeartbeat:
		n.onHeartbeat()
	case wire.TypeElection:
		n.onElection(ctx, m)
	case wire.TypeBully:
		n.notice(CategoryElection, "Bully message received from node %d.", m.From)
		signal(n.bullyCh)
	case wire.TypeLeader:
		n.onLeader(ctx, m)
	}
}

func (n *Node) onRegister(ctx context.Context, m wire.Message) {
	if m.Addr == "" {
		return
	}
	n.mu.Lock()
	if !n.isLeader {
		n.mu.Unlock()
		n.logger.Warn().Str(log.FieldPeer, m.Addr).Msg("registration sent to a node that is not the leader")
		return
	}
	newID := 0
	for id, addr := range n.peers {
		if addr == m.Addr {
			newID = id
			break
		}
	}
	if newID == 0 {
		newID = 1
		if len(n.peers) > 0 {
			newID = slices.Max(slices.Collect(maps.Keys(n.peers))) + 1
		}
		n.peers[newID] = m.Addr
	}
	table := maps.Clone(n.peers)
	addrs := n.peerAddrsLocked()
	self, started, options := n.self, n.votingStarted && !n.votingEnded, slices.Clone(n.options)
	n.mu.Unlock()

	metrics.SetPeers(len(table))
	n.logger.Info().
		Str(log.FieldEvent, "peer.joined").
		Str(log.FieldPeer, m.Addr).
		Int(log.FieldNodeID, newID).
		Msg("registered peer")
	n.notice(CategoryRegistration, "My peer list: %v", table)

	_ = n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeUpdatePeers, Peers: table}, self)
	if err := n.transport.Send(ctx, m.Addr, wire.Message{Type: wire.TypeAck, ID: newID, Text: "You are successfully registered."}); err != nil {
		n.logger.Warn().Err(err).Str(log.FieldPeer, m.Addr).Msg("registration ack failed")
		return
	}
	if started {
		// Late joiners still get to vote.
		_ = n.transport.Send(ctx, m.Addr, wire.Message{Type: wire.TypeStartVoting, Options: options})
	}
}

func (n *Node) onUpdatePeers(m wire.Message) {
	n.mu.Lock()
	n.peers = maps.Clone(m.Peers)
	if n.peers == nil {
		n.peers = make(map[int]string)
	}
	for id, addr := range n.peers {
		if addr == n.self {
			n.id = id
		}
	}
	table := maps.Clone(n.peers)
	n.mu.Unlock()

	metrics.SetPeers(len(table))
	n.notice(CategoryRegistration, "Updated peer list: %v", table)
}

func (n *Node) onVote(ctx context.Context, m wire.Message) {
	reply := m.Addr
	n.mu.Lock()
	if reply == "" {
		reply = n.peers[m.From]
	}
	leader := n.isLeader
	n.mu.Unlock()
	if reply == "" {
		n.logger.Warn().Int("from", m.From).Msg("vote without a reply address")
		return
	}
	if !leader {
		_ = n.transport.Send(ctx, reply, wire.Message{Type: wire.TypeRejected, Text: ErrNotLeader.Error()})
		return
	}

	canonical, err := n.count(m.Voter, m.Vote)
	var answer wire.Message
	switch {
	case err == nil:
		n.replicate(ctx, canonical, m.Voter)
		answer = wire.Message{Type: wire.TypeAck, Text: "Your vote was successfully counted."}
	case errors.Is(err, ErrDuplicateVote):
		answer = wire.Message{Type: wire.TypeDuplicate, Text: "A vote has already been cast with your UUID."}
	default:
		answer = wire.Message{Type: wire.TypeRejected, Text: err.Error()}
	}
	if err := n.transport.Send(ctx, reply, answer); err != nil {
		n.logger.Warn().Err(err).Str(log.FieldPeer, reply).Msg("vote reply failed")
	}
}

func (n *Node) onUpdateTally(m wire.Message) {
	if m.Voter == "" || m.Vote == "" {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.voters[m.Voter]; seen {
		return
	}
	n.voters[m.Voter] = struct{}{}
	n.tally[m.Vote]++
}

func (n *Node) onStartVoting(m wire.Message) {
	n.mu.Lock()
	if len(m.Options) > 0 {
		n.seedOptionsLocked(m.Options)
	}
	already := n.votingStarted
	n.votingStarted = true
	options := slices.Clone(n.options)
	n.mu.Unlock()

	if !already {
		n.emit(Event{Kind: EventVotingStarted, Options: options})
	}
}

func (n *Node) onVotingEnded(m wire.Message) {
	n.mu.Lock()
	n.votingEnded = true
	if m.Tally != nil {
		n.tally = maps.Clone(m.Tally)
	}
	tally := maps.Clone(n.tally)
	n.mu.Unlock()

	n.emit(Event{Kind: EventVotingEnded, Tally: tally, Text: m.Text})
}

func (n *Node) onHeartbeat() {
	n.mu.Lock()
	n.lastHeartbeat = n.now()
	n.mu.Unlock()
	metrics.RecordHeartbeat("in")
	n.notice(CategoryHeartbeat, "Heartbeat received.")
}

func (n *Node) onElection(ctx context.Context, m wire.Message) {
	n.notice(CategoryElection, "Election message received from node %d.", m.From)

	n.mu.Lock()
	myID, self, leader := n.id, n.self, n.isLeader
	challenger := m.Addr
	if challenger == "" {
		challenger = n.peers[m.From]
	}
	n.mu.Unlock()

	if myID <= m.From || challenger == "" {
		return
	}
	n.notice(CategoryElection, "Bullying node %d at %s.", m.From, challenger)
	_ = n.transport.Send(ctx, challenger, wire.Message{Type: wire.TypeBully, From: myID, Addr: self})

	if leader {
		// Remind the challenger who leads so it stops waiting.
		_ = n.transport.Send(ctx, challenger, wire.Message{Type: wire.TypeLeader, From: myID, Addr: self})
		return
	}
	n.goSafe(func() { n.StartElection(ctx) })
}

func (n *Node) onLeader(ctx context.Context, m wire.Message) {
	if m.Addr == "" {
		return
	}
	n.mu.Lock()
	if m.Addr == n.self {
		n.mu.Unlock()
		return
	}
	old := n.leader
	if old != m.Addr && old != n.self {
		n.dropAddrLocked(old)
	}
	if m.From > 0 {
		n.peers[m.From] = m.Addr
	}
	wasLeader := n.isLeader
	n.leader = m.Addr
	n.isLeader = false
	n.lastHeartbeat = n.now()
	pending := n.buffered
	n.buffered = ""
	n.mu.Unlock()

	if wasLeader {
		metrics.SetLeader(false)
	}
	signal(n.leaderCh)
	n.logger.Info().
		Str(log.FieldEvent, "election.leader_changed").
		Str(log.FieldLeader, m.Addr).
		Int(log.FieldNodeID, m.From).
		Msg("new leader announced")
	n.emit(Event{Kind: EventLeaderChanged, Leader: m.Addr, Text: "New leader: " + m.Addr})

	if pending != "" {
		n.goSafe(func() {
			err := n.CastVote(ctx, pending)
			n.emit(Event{Kind: EventVoteResult, Err: err, Text: pending})
		})
	}
}
