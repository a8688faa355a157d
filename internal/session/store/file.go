// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ManuGH/distvote/internal/fsutil"
	xglog "github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/session"
	"github.com/rs/zerolog"
)

var sessionFileRegexp = regexp.MustCompile(`^[A-Z0-9]{6}\.json$`)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// FileStore keeps one JSON document per session named <ID>.json in a
// directory. Writes are atomic; a mutex serializes writers within the process.
type FileStore struct {
	base
	dir    string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("create session dir %q: %w", dir, err)
	}
	return &FileStore{
		base:   newBase(opts),
		dir:    dir,
		logger: xglog.WithComponent("store.file"),
	}, nil
}

func (f *FileStore) path(id session.ID) string {
	return filepath.Join(f.dir, string(id)+".json")
}

func (f *FileStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	return f.create(ctx, s, func(_ context.Context, s session.Session) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, err := os.Stat(f.path(s.ID)); err == nil {
			return errIDTaken
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return f.write(s)
	})
}

func (f *FileStore) write(s session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return fsutil.WriteFileAtomic(f.path(s.ID), data, filePerm)
}

func (f *FileStore) read(id session.ID) (session.Session, error) {
	data, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return session.Session{}, notFound(id)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("read session %s: %w", id, err)
	}
	var s session.Session
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return session.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (f *FileStore) Get(_ context.Context, id session.ID) (session.Session, error) {
	return f.read(id)
}

// List skips files that cannot be read or decoded and logs them.
func (f *FileStore) List(ctx context.Context) ([]session.Session, error) {
	ids, err := f.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		s, err := f.read(id)
		if err != nil {
			f.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "store.file.skip").
				Str(xglog.FieldSessionID, string(id)).
				Msg("session file skipped")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *FileStore) ListIDs(_ context.Context) ([]session.ID, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	ids := make([]session.ID, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !sessionFileRegexp.MatchString(e.Name()) {
			continue
		}
		ids = append(ids, session.ID(strings.TrimSuffix(e.Name(), ".json")))
	}
	// os.ReadDir returns entries sorted by filename.
	return ids, nil
}

func (f *FileStore) Update(_ context.Context, id session.ID, p session.Patch) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, err := f.read(id)
	if err != nil {
		return session.Session{}, err
	}
	next, err := f.patch(cur, p)
	if err != nil {
		return session.Session{}, err
	}
	if err := f.write(next); err != nil {
		return session.Session{}, err
	}
	return next, nil
}

func (f *FileStore) Delete(_ context.Context, id session.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(id)
	}
	return err
}

// Ping checks that the session directory is still a readable directory.
func (f *FileStore) Ping(context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.dir)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
