package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/distvote/internal/version"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.String()+"\n", out.String())
}

func TestJoinCommand_RejectsExtraArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"join", "ABC123", "extra"})
	assert.Error(t, cmd.Execute())
}

func TestStartCommand_Flags(t *testing.T) {
	cmd := newRootCmd()
	start, _, err := cmd.Find([]string{"start"})
	require.NoError(t, err)
	require.NoError(t, start.ParseFlags([]string{"--port", "5000", "--options", "a,b"}))

	port, err := start.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 5000, port)
	opts, err := start.Flags().GetStringSlice("options")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, opts)
}
