// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session defines the voting session record kept by the registry.
package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"slices"
	"time"
)

var (
	ErrInvalidID      = errors.New("invalid session id: must be 6 uppercase alphanumeric characters")
	ErrInvalidSession = errors.New("invalid session")
	ErrNotFound       = errors.New("session not found")
	ErrEmptyPatch     = errors.New("patch changes nothing")
)

const (
	// IDPattern is the route pattern for a session code.
	IDPattern = `^[A-Z0-9]{6}$`
	// IDLength is the number of characters in a session code.
	IDLength = 6

	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var idRegexp = regexp.MustCompile(IDPattern)

// ID is a session code such as "ABC123".
type ID string

// ParseID validates s as a session code.
func ParseID(s string) (ID, error) {
	if !idRegexp.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(s), nil
}

// NewID draws a random session code from r. A nil r uses crypto/rand.
func NewID(r io.Reader) (ID, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, IDLength)
	out := make([]byte, 0, IDLength)
	// Rejection sampling keeps the distribution uniform over the alphabet.
	limit := byte(256 - 256%len(idAlphabet))
	for len(out) < IDLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == IDLength {
				break
			}
		}
	}
	return ID(out), nil
}

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// UnmarshalJSON rejects codes that are not 6 uppercase alphanumerics.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseID(raw)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Status is the lifecycle stage of a session.
type Status string

const (
	StatusOpen    Status = ""
	StatusWaiting Status = "waiting"
	StatusVoting  Status = "voting"
	StatusEnded   Status = "ended"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusWaiting, StatusVoting, StatusEnded:
		return true
	}
	return false
}

// Session is the registry record of one election: where its leader listens
// and which options can be voted for.
type Session struct {
	ID        ID        `json:"id,omitempty"`
	Host      net.IP    `json:"host"`
	Port      int       `json:"port"`
	Options   []string  `json:"options"`
	Status    Status    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Addr returns the leader address as host:port.
func (s Session) Addr() string {
	return net.JoinHostPort(s.Host.String(), fmt.Sprint(s.Port))
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	if s.Host != nil {
		out.Host = slices.Clone(s.Host)
	}
	out.Options = slices.Clone(s.Options)
	return out
}

// Validate checks the fields required for a session to be stored.
func (s Session) Validate() error {
	var errs []error
	if s.Host == nil {
		errs = append(errs, errors.New("host is required"))
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if len(NormalizeOptions(s.Options)) == 0 {
		errs = append(errs, errors.New("at least one option is required"))
	}
	if !s.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", s.Status))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSession, errors.Join(errs...))
	}
	return nil
}

// Patch is a partial update. Only the leader address and the status can change.
type Patch struct {
	Host   net.IP  `json:"host,omitempty"`
	Port   *int    `json:"port,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// Empty reports whether p would change nothing.
func (p Patch) Empty() bool {
	return p.Host == nil && p.Port == nil && p.Status == nil
}

// Validate checks the fields present in p.
func (p Patch) Validate() error {
	if p.Empty() {
		return ErrEmptyPatch
	}
	if p.Port != nil && (*p.Port < 1 || *p.Port > 65535) {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSession, *p.Port)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, *p.Status)
	}
	return nil
}

// Apply copies the non-empty fields of p into s and stamps UpdatedAt.
// ID and Options are never changed.
func (s *Session) Apply(p Patch, now time.Time) {
	if p.Host != nil {
		s.Host = slices.Clone(p.Host)
	}
	if p.Port != nil {
		s.Port = *p.Port
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	s.UpdatedAt = now
}
