// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package wire defines the messages exchanged between voting nodes.
//
// A connection carries exactly one message: a JSON object terminated by a
// newline. The "type" field selects which of the other fields are meaningful.
package wire

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds one encoded message, newline included.
const MaxMessageSize = 64 << 10

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrTooLarge    = errors.New("message exceeds size limit")
	ErrEmpty       = errors.New("empty message")
)

// Type names a peer message.
type Type string

const (
	TypeRegister    Type = "REGISTER"
	TypeUpdatePeers Type = "UPDATE_NEW_PEER"
	TypeAck         Type = "ACK"
	TypeVote        Type = "VOTE"
	TypeDuplicate   Type = "DUPLICATE"
	TypeRejected    Type = "REJECTED"
	TypeUpdateTally Type = "UPDATE_VOTE_TALLY"
	TypeStartVoting Type = "START_VOTING"
	TypeVotingEnded Type = "VOTING_ENDED"
	TypeHeartbeat   Type = "HEARTBEAT"
	TypeElection    Type = "ELECTION"
	TypeBully       Type = "BULLY"
	TypeLeader      Type = "LEADER"
)

// Known reports whether t is part of the protocol.
func (t Type) Known() bool {
	switch t {
	case TypeRegister, TypeUpdatePeers, TypeAck, TypeVote, TypeDuplicate, TypeRejected,
		TypeUpdateTally, TypeStartVoting, TypeVotingEnded, TypeHeartbeat,
		TypeElection, TypeBully, TypeLeader:
		return true
	}
	return false
}

// Message is the envelope of every peer message.
type Message struct {
	Type Type `json:"type"`

	// From is the sender's node id.
	From int `json:"from,omitempty"`
	// Addr is the sender's listen address, host:port.
	Addr string `json:"addr,omitempty"`
	// ID is the node id assigned by the leader in a registration ACK.
	ID   int    `json:"id,omitempty"`
	Text string `json:"text,omitempty"`

	Vote  string `json:"vote,omitempty"`
	Voter string `json:"voter,omitempty"`

	Options []string       `json:"options,omitempty"`
	Peers   map[int]string `json:"peers,omitempty"`
	Tally   map[string]int `json:"tally,omitempty"`
}

// Encode writes m as one newline terminated JSON line.
func Encode(w io.Writer, m Message) error {
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	buf = append(buf, '\n')
	if len(buf) > MaxMessageSize {
		return fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, m.Type, len(buf))
	}
	_, err = w.Write(buf)
	return err
}

// Decode reads one message from r. A missing trailing newline is accepted
// when the peer closed the connection right after the message.
func Decode(r io.Reader) (Message, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxMessageSize)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return Message{}, ErrTooLarge
			}
			return Message{}, err
		}
		return Message{}, ErrEmpty
	}

	var m Message
	if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if !m.Type.Known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}
