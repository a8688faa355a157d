package peer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/peer/wire"
	"github.com/ManuGH/distvote/internal/session"
)

// count records one ballot. It returns the canonical option on success.
func (n *Node) count(voter, vote string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, dup := n.voters[voter]; dup {
		metrics.RecordVote("duplicate")
		return "", ErrDuplicateVote
	}
	if !n.votingStarted || n.votingEnded {
		metrics.RecordVote("rejected")
		return "", fmt.Errorf("%w: voting is not open", ErrVoteRejected)
	}
	canonical, ok := session.MatchOption(n.options, vote)
	if !ok {
		metrics.RecordVote("rejected")
		return "", fmt.Errorf("%w: %q is not a voting option", ErrVoteRejected, vote)
	}
	n.voters[voter] = struct{}{}
	n.tally[canonical]++
	metrics.RecordVote("counted")
	n.logger.Info().
		Str(log.FieldEvent, "vote.counted").
		Str(log.FieldVoterID, voter).
		Str("option", canonical).
		Msg("ballot counted")
	return canonical, nil
}

// replicate tells every follower about a counted ballot.
func (n *Node) replicate(ctx context.Context, vote, voter string) {
	n.mu.Lock()
	addrs, self := n.peerAddrsLocked(), n.self
	n.mu.Unlock()
	_ = n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeUpdateTally, Vote: vote, Voter: voter}, self)
}

// CastVote submits this machine's ballot. The leader counts its own ballot
// locally; followers send it to the leader and wait for the verdict. When
// the leader cannot be reached the ballot is kept and an election starts;
// ErrVoteBuffered reports that case and the outcome arrives later as an
// EventVoteResult.
func (n *Node) CastVote(ctx context.Context, vote string) error {
	runCtx, err := n.runContext()
	if err != nil {
		return err
	}

	n.mu.Lock()
	canonical, ok := session.MatchOption(n.options, vote)
	leader, isLeader, self, id := n.leader, n.isLeader, n.self, n.id
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q is not a voting option", ErrVoteRejected, vote)
	}

	voter := n.voter.String()
	if isLeader {
		if _, err := n.count(voter, canonical); err != nil {
			return err
		}
		n.replicate(ctx, canonical, voter)
		return nil
	}
	if leader == "" {
		n.buffer(runCtx, canonical)
		return fmt.Errorf("%w: %w", ErrVoteBuffered, ErrNoLeader)
	}

	reply, err := n.request(ctx, leader, wire.Message{Type: wire.TypeVote, From: id, Addr: self, Vote: canonical, Voter: voter})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		n.logger.Warn().Err(err).
			Str(log.FieldEvent, "vote.leader_unreachable").
			Str(log.FieldLeader, leader).
			Msg("leader did not take the ballot")
		n.buffer(runCtx, canonical)
		return fmt.Errorf("%w: %w", ErrVoteBuffered, err)
	}

	switch reply.Type {
	case wire.TypeAck:
		n.notice(CategoryAck, "%s", reply.Text)
		return nil
	case wire.TypeDuplicate:
		return ErrDuplicateVote
	default:
		return fmt.Errorf("%w: %s", ErrVoteRejected, reply.Text)
	}
}

// buffer keeps vote for the next leader and starts an election.
func (n *Node) buffer(ctx context.Context, vote string) {
	n.mu.Lock()
	n.buffered = vote
	n.mu.Unlock()
	metrics.RecordVote("buffered")
	n.goSafe(func() { n.StartElection(ctx) })
}

// OpenVoting lets followers vote. Leader only.
func (n *Node) OpenVoting(ctx context.Context) error {
	n.mu.Lock()
	if !n.isLeader {
		n.mu.Unlock()
		return ErrNotLeader
	}
	n.votingStarted = true
	options := slices.Clone(n.options)
	addrs, self, sid := n.peerAddrsLocked(), n.self, n.sessionID
	n.mu.Unlock()

	if err := n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeStartVoting, Options: options}, self); err != nil {
		n.logger.Warn().Err(err).Msg("some peers missed the start of voting")
	}
	n.setRegistryStatus(ctx, sid, session.StatusVoting)
	n.logger.Info().Str(log.FieldEvent, "voting.started").Str(log.FieldSessionID, string(sid)).Msg("voting opened")
	return nil
}

// EndVoting closes the vote, sends the results to every peer and returns
// them. Leader only.
func (n *Node) EndVoting(ctx context.Context) ([]Result, error) {
	n.mu.Lock()
	if !n.isLeader {
		n.mu.Unlock()
		return nil, ErrNotLeader
	}
	n.votingEnded = true
	tally := maps.Clone(n.tally)
	options := slices.Clone(n.options)
	addrs, self, sid := n.peerAddrsLocked(), n.self, n.sessionID
	n.mu.Unlock()

	text := "Thanks for voting! Voting results: " + FormatTally(options, tally)
	if err := n.transport.Broadcast(ctx, addrs, wire.Message{Type: wire.TypeVotingEnded, Tally: tally, Text: text}, self); err != nil {
		n.logger.Warn().Err(err).Msg("some peers missed the results")
	}
	n.setRegistryStatus(ctx, sid, session.StatusEnded)
	n.logger.Info().Str(log.FieldEvent, "voting.ended").Str(log.FieldSessionID, string(sid)).Msg("voting closed")
	return Results(tally), nil
}

func (n *Node) setRegistryStatus(ctx context.Context, id session.ID, status session.Status) {
	if id == "" {
		return
	}
	if err := n.registry.UpdateSession(ctx, id, session.Patch{Status: &status}); err != nil {
		n.logger.Warn().Err(err).
			Str(log.FieldSessionID, string(id)).
			Str("status", string(status)).
			Msg("could not update session status at registry")
	}
}

// Tally returns a copy of the current counts.
func (n *Node) Tally() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return maps.Clone(n.tally)
}

// Result is the count of one option.
type Result struct {
	Option string
	Votes  int
}

// Results orders a tally by votes, then option name.
func Results(tally map[string]int) []Result {
	out := make([]Result, 0, len(tally))
	for o, v := range tally {
		out = append(out, Result{Option: o, Votes: v})
	}
	slices.SortFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Votes, a.Votes); c != 0 {
			return c
		}
		return strings.Compare(a.Option, b.Option)
	})
	return out
}

// FormatTally renders a tally as {A=1, B=0}, options first in ballot order
// and any others after them by name.
func FormatTally(options []string, tally map[string]int) string {
	keys := make([]string, 0, len(tally))
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if _, ok := tally[o]; ok {
			keys = append(keys, o)
			seen[o] = struct{}{}
		}
	}
	var rest []string
	for k := range tally {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	keys = append(keys, rest...)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%d", k, tally[k])
	}
	b.WriteByte('}')
	return b.String()
}

// IsBuffered reports whether err means the ballot is waiting for a leader.
func IsBuffered(err error) bool { return errors.Is(err, ErrVoteBuffered) }
