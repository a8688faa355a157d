package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ManuGH/distvote/internal/persistence/sqlite"
	"github.com/ManuGH/distvote/internal/session"
)

const sqliteSchemaVersion = 1

// SqliteStore implements Store on an embedded SQLite database.
type SqliteStore struct {
	base
	DB *sql.DB
}

// NewSqliteStore opens (or creates) the database at dbPath and migrates it.
func NewSqliteStore(ctx context.Context, dbPath string, opts ...Option) (*SqliteStore, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SqliteStore{base: newBase(opts), DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate(ctx context.Context) error {
	var current int
	if err := s.DB.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		options_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Create(ctx context.Context, sess session.Session) (session.Session, error) {
	return s.create(ctx, sess, func(ctx context.Context, sess session.Session) error {
		opts, err := json.Marshal(sess.Options)
		if err != nil {
			return err
		}
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO sessions (id, host, port, options_json, status, created_at_ms, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			string(sess.ID), sess.Host.String(), sess.Port, string(opts), string(sess.Status),
			sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errIDTaken
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (session.Session, error) {
	var (
		id, host, optsJSON, status string
		port                       int
		createdMs, updatedMs       int64
	)
	if err := row.Scan(&id, &host, &port, &optsJSON, &status, &createdMs, &updatedMs); err != nil {
		return session.Session{}, err
	}
	var opts []string
	if err := json.Unmarshal([]byte(optsJSON), &opts); err != nil {
		return session.Session{}, fmt.Errorf("decode options of %s: %w", id, err)
	}
	return session.Session{
		ID:        session.ID(id),
		Host:      net.ParseIP(host),
		Port:      port,
		Options:   opts,
		Status:    session.Status(status),
		CreatedAt: time.UnixMilli(createdMs).UTC(),
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, nil
}

const sqliteSelect = `SELECT id, host, port, options_json, status, created_at_ms, updated_at_ms FROM sessions`

func (s *SqliteStore) Get(ctx context.Context, id session.ID) (session.Session, error) {
	out, err := scanSession(s.DB.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, notFound(id)
	}
	return out, err
}

func (s *SqliteStore) List(ctx context.Context) ([]session.Session, error) {
	rows, err := s.DB.QueryContext(ctx, sqliteSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ListIDs(ctx context.Context) ([]session.ID, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]session.ID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, session.ID(id))
	}
	return ids, rows.Err()
}

func (s *SqliteStore) Update(ctx context.Context, id session.ID, p session.Patch) (session.Session, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return session.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanSession(tx.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, notFound(id)
	}
	if err != nil {
		return session.Session{}, err
	}
	next, err := s.patch(cur, p)
	if err != nil {
		return session.Session{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET host = ?, port = ?, status = ?, updated_at_ms = ? WHERE id = ?`,
		next.Host.String(), next.Port, string(next.Status), next.UpdatedAt.UnixMilli(), string(id)); err != nil {
		return session.Session{}, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return session.Session{}, err
	}
	return next, nil
}

func (s *SqliteStore) Delete(ctx context.Context, id session.ID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// Ping runs a quick integrity check.
func (s *SqliteStore) Ping(ctx context.Context) error {
	diag, err := sqlite.QuickCheck(ctx, s.DB)
	if err != nil {
		return err
	}
	if len(diag) > 0 {
		return fmt.Errorf("sqlite integrity: %v", diag)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
