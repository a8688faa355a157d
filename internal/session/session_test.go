// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "ABC123"},
		{in: "ZZZZZZ"},
		{in: "abc123", wantErr: true},
		{in: "ABC12", wantErr: true},
		{in: "ABC1234", wantErr: true},
		{in: "ABC-12", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ID(tt.in), id)
		})
	}
}

func TestNewID_AlwaysValid(t *testing.T) {
	for i := 0; i < 200; i++ {
		id, err := NewID(nil)
		require.NoError(t, err)
		_, err = ParseID(string(id))
		require.NoError(t, err, "generated id %q", id)
	}
}

func TestNewID_SkipsBiasedBytes(t *testing.T) {
	// 0xFF is above the rejection limit and must be skipped.
	src := bytes.NewReader([]byte{0xFF, 0, 1, 2, 0xFF, 25, 26, 35, 0, 0, 0, 0})
	id, err := NewID(src)
	require.NoError(t, err)
	assert.Equal(t, ID("ABCZ09"), id)
}

func TestID_UnmarshalJSONRejectsLowercase(t *testing.T) {
	var s Session
	err := json.Unmarshal([]byte(`{"id":"abc123","host":"127.0.0.1","port":1,"options":["a"]}`), &s)
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestSessionValidate(t *testing.T) {
	valid := Session{Host: net.ParseIP("127.0.0.1"), Port: 5000, Options: []string{"Pizza"}}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Session)
	}{
		{name: "missing host", mutate: func(s *Session) { s.Host = nil }},
		{name: "zero port", mutate: func(s *Session) { s.Port = 0 }},
		{name: "port too high", mutate: func(s *Session) { s.Port = 70000 }},
		{name: "nil options", mutate: func(s *Session) { s.Options = nil }},
		{name: "blank options", mutate: func(s *Session) { s.Options = []string{" ", ""} }},
		{name: "unknown status", mutate: func(s *Session) { s.Status = "paused" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid.Clone()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSession)
		})
	}
}

func TestSessionApply_OnlyMutableFields(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Session{
		ID:        "ABC123",
		Host:      net.ParseIP("10.0.0.1"),
		Port:      5000,
		Options:   []string{"a", "b"},
		CreatedAt: created,
	}
	port := 6000
	status := StatusVoting
	now := created.Add(time.Minute)

	s.Apply(Patch{Host: net.ParseIP("10.0.0.2"), Port: &port, Status: &status}, now)

	assert.Equal(t, ID("ABC123"), s.ID)
	assert.Equal(t, "10.0.0.2", s.Host.String())
	assert.Equal(t, 6000, s.Port)
	assert.Equal(t, StatusVoting, s.Status)
	assert.Equal(t, []string{"a", "b"}, s.Options)
	assert.Equal(t, now, s.UpdatedAt)
}

func TestSessionApply_NilFieldsIgnored(t *testing.T) {
	s := Session{Host: net.ParseIP("10.0.0.1"), Port: 5000, Status: StatusWaiting}
	s.Apply(Patch{}, time.Now())
	assert.Equal(t, "10.0.0.1", s.Host.String())
	assert.Equal(t, 5000, s.Port)
	assert.Equal(t, StatusWaiting, s.Status)
}

func TestPatchValidate(t *testing.T) {
	assert.ErrorIs(t, Patch{}.Validate(), ErrEmptyPatch)

	bad := 0
	assert.ErrorIs(t, Patch{Port: &bad}.Validate(), ErrInvalidSession)

	st := Status("bogus")
	assert.ErrorIs(t, Patch{Status: &st}.Validate(), ErrInvalidSession)

	ok := 8080
	assert.NoError(t, Patch{Port: &ok}.Validate())
}

func TestSessionAddr(t *testing.T) {
	s := Session{Host: net.ParseIP("192.168.1.4"), Port: 5001}
	assert.Equal(t, "192.168.1.4:5001", s.Addr())
}

func TestClone_IsDeep(t *testing.T) {
	s := Session{Host: net.ParseIP("10.0.0.1"), Options: []string{"a"}}
	c := s.Clone()
	c.Options[0] = "z"
	c.Host[len(c.Host)-1] = 9
	assert.Equal(t, "a", s.Options[0])
	assert.Equal(t, "10.0.0.1", s.Host.String())
}
