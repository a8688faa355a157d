package peer

import "github.com/ManuGH/distvote/internal/session"

// EventKind classifies what a node reports to its front-end.
type EventKind int

const (
	// EventNotice is an informational line for the console.
	EventNotice EventKind = iota
	// EventVotingStarted asks the front-end to prompt for a ballot.
	EventVotingStarted
	// EventVotingEnded carries the final tally.
	EventVotingEnded
	// EventBecameLeader tells the front-end it now controls the session.
	EventBecameLeader
	// EventLeaderChanged reports another node took over.
	EventLeaderChanged
	// EventSessionMoved carries the new code after a registry failover.
	EventSessionMoved
	// EventVoteResult reports the outcome of a buffered ballot.
	EventVoteResult
)

// Category selects how a notice is highlighted.
type Category int

const (
	CategoryInfo Category = iota
	CategoryHeartbeat
	CategoryRegistration
	CategoryAck
	CategoryElection
)

// Event is emitted on Node.Events.
type Event struct {
	Kind     EventKind
	Category Category
	Text     string

	Options   []string
	Tally     map[string]int
	SessionID session.ID
	Leader    string
	Err       error

	VotingStarted bool
	VotingEnded   bool
}
