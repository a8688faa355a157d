// Package identity gives each machine a stable voter id so that a machine
// casts at most one ballot per session.
package identity

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/distvote/internal/fsutil"
	"github.com/ManuGH/distvote/internal/log"
	"github.com/google/uuid"
)

// ErrEmpty is returned when the identity file exists but holds nothing.
var ErrEmpty = errors.New("identity file is empty")

// machineIDFiles are read in order; the first non-empty one wins.
var machineIDFiles = []string{
	"/sys/class/dmi/id/product_uuid",
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Load returns the voter id stored at path, creating it on first use.
// A new id is derived from the machine id when one is readable and is random
// otherwise. The file is written read-only.
func Load(path string) (uuid.UUID, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		raw := strings.TrimSpace(string(data))
		if raw == "" {
			return uuid.Nil, fmt.Errorf("%s: %w", path, ErrEmpty)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%s: invalid voter id: %w", path, err)
		}
		return id, nil
	case !errors.Is(err, fs.ErrNotExist):
		return uuid.Nil, fmt.Errorf("read identity: %w", err)
	}

	id, source := generate()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return uuid.Nil, fmt.Errorf("create identity dir: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, []byte(id.String()+"\n"), 0o400); err != nil {
		return uuid.Nil, fmt.Errorf("write identity: %w", err)
	}
	logger := log.WithComponent("identity")
	logger.Info().
		Str(log.FieldEvent, "identity.created").
		Str(log.FieldVoterID, id.String()).
		Str("source", source).
		Str(log.FieldPath, path).
		Msg("created voter identity")
	return id, nil
}

func generate() (uuid.UUID, string) {
	for _, f := range machineIDFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		if raw := strings.TrimSpace(string(data)); raw != "" {
			return FromMachineID(raw), f
		}
	}
	return uuid.New(), "random"
}

// FromMachineID derives a version 3 UUID from the MD5 of machineID, with no
// namespace prefix.
func FromMachineID(machineID string) uuid.UUID {
	sum := md5.Sum([]byte(machineID))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}
