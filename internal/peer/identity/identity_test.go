package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMachineIDFiles(t *testing.T, files ...string) {
	t.Helper()
	prev := machineIDFiles
	machineIDFiles = files
	t.Cleanup(func() { machineIDFiles = prev })
}

func TestLoad_DerivesFromMachineID(t *testing.T) {
	dir := t.TempDir()
	mid := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(mid, []byte("4c4c4544-0042-3510-8052-b4c04f564433\n"), 0o600))
	withMachineIDFiles(t, filepath.Join(dir, "missing"), mid)

	path := filepath.Join(dir, ".uuid", "uuid.txt")
	id, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, FromMachineID("4c4c4544-0042-3510-8052-b4c04f564433"), id)
	assert.Equal(t, uuid.Version(3), id.Version())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o400), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLoad_RandomFallback(t *testing.T) {
	withMachineIDFiles(t, filepath.Join(t.TempDir(), "missing"))

	id, err := Load(filepath.Join(t.TempDir(), "uuid.txt"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
}

func TestLoad_RejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o400))
	_, err := Load(empty)
	assert.ErrorIs(t, err, ErrEmpty)

	bad := filepath.Join(dir, "bad.txt")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-uuid"), 0o400))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "invalid voter id")
}

func TestFromMachineID_MatchesNameBasedUUID(t *testing.T) {
	// Name-based (type 3) UUID of "hello" without a namespace.
	assert.Equal(t, "5d41402a-bc4b-3a76-b971-9d911017c592", FromMachineID("hello").String())
}
