// SPDX-License-Identifier: MIT

package wire

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_OneLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Message{Type: TypeHeartbeat, From: 3}))
	assert.Equal(t, `{"type":"HEARTBEAT","from":3}`+"\n", buf.String())
}

func TestDecode_PeerTable(t *testing.T) {
	in := Message{
		Type:  TypeUpdatePeers,
		Peers: map[int]string{1: "10.0.0.1:5000", 2: "10.0.0.2:5001"},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))

	got, err := Decode(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{name: "empty", input: "", want: ErrEmpty},
		{name: "unknown type", input: `{"type":"GOSSIP"}` + "\n", want: ErrUnknownType},
		{name: "missing type", input: `{"from":1}` + "\n", want: ErrUnknownType},
		{name: "too large", input: `{"type":"ACK","text":"` + strings.Repeat("x", MaxMessageSize) + `"}` + "\n", want: ErrTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Decode(strings.NewReader("VOTE:1:pizza:abc\n"))
	assert.Error(t, err)
}

func TestDecode_NoTrailingNewline(t *testing.T) {
	m, err := Decode(strings.NewReader(`{"type":"BULLY","from":2}`))
	require.NoError(t, err)
	assert.Equal(t, TypeBully, m.Type)
	assert.Equal(t, 2, m.From)
}

func TestEncode_RejectsUnknownType(t *testing.T) {
	assert.ErrorIs(t, Encode(&bytes.Buffer{}, Message{Type: "NOPE"}), ErrUnknownType)
}
