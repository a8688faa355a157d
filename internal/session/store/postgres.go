// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ManuGH/distvote/internal/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	options TEXT[] NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const postgresSelect = `SELECT id, host, port, options, status, created_at, updated_at FROM sessions`

// PostgresStore implements Store on PostgreSQL, letting several registry
// instances share one session table.
type PostgresStore struct {
	base
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the sessions table if needed.
func NewPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	return &PostgresStore{base: newBase(opts), pool: pool}, nil
}

func scanPostgres(row pgx.Row) (session.Session, error) {
	var (
		id, host, status     string
		port                 int
		opts                 []string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &host, &port, &opts, &status, &createdAt, &updatedAt); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		ID:        session.ID(id),
		Host:      net.ParseIP(host),
		Port:      port,
		Options:   opts,
		Status:    session.Status(status),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func (p *PostgresStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	return p.create(ctx, s, func(ctx context.Context, s session.Session) error {
		tag, err := p.pool.Exec(ctx, `
			INSERT INTO sessions (id, host, port, options, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING`,
			string(s.ID), s.Host.String(), s.Port, s.Options, string(s.Status), s.CreatedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return errIDTaken
		}
		return nil
	})
}

func (p *PostgresStore) Get(ctx context.Context, id session.ID) (session.Session, error) {
	out, err := scanPostgres(p.pool.QueryRow(ctx, postgresSelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Session{}, notFound(id)
	}
	return out, err
}

func (p *PostgresStore) List(ctx context.Context) ([]session.Session, error) {
	rows, err := p.pool.Query(ctx, postgresSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]session.Session, 0)
	for rows.Next() {
		s, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListIDs(ctx context.Context) ([]session.ID, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.ID, error) {
		var id string
		err := row.Scan(&id)
		return session.ID(id), err
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []session.ID{}
	}
	return ids, nil
}

func (p *PostgresStore) Update(ctx context.Context, id session.ID, patch session.Patch) (session.Session, error) {
	var out session.Session
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		cur, err := scanPostgres(tx.QueryRow(ctx, postgresSelect+` WHERE id = $1 FOR UPDATE`, string(id)))
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		out, err = p.patch(cur, patch)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE sessions SET host = $2, port = $3, status = $4, updated_at = $5 WHERE id = $1`,
			string(id), out.Host.String(), out.Port, string(out.Status), out.UpdatedAt)
		return err
	})
	if err != nil {
		return session.Session{}, err
	}
	return out, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id session.ID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
