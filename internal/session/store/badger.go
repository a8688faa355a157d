// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/distvote/internal/session"
	"github.com/dgraph-io/badger/v4"
)

const badgerSessionPrefix = "sess:"

// BadgerStore keeps sessions as JSON values under "sess:<id>" keys.
type BadgerStore struct {
	base
	db *badger.DB
}

// NewBadgerStore opens the badger database at path.
func NewBadgerStore(path string, opts ...Option) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{base: newBase(opts), db: db}, nil
}

func badgerKey(id session.ID) []byte {
	return []byte(badgerSessionPrefix + string(id))
}

func getBadger(txn *badger.Txn, id session.ID) (session.Session, error) {
	var out session.Session
	item, err := txn.Get(badgerKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, notFound(id)
	}
	if err != nil {
		return out, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	})
	return out, err
}

func setBadger(txn *badger.Txn, s session.Session) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(badgerKey(s.ID), buf)
}

func (b *BadgerStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	return b.create(ctx, s, func(_ context.Context, s session.Session) error {
		return b.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(badgerKey(s.ID))
			if err == nil {
				return errIDTaken
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return setBadger(txn, s)
		})
	})
}

func (b *BadgerStore) Get(_ context.Context, id session.ID) (session.Session, error) {
	var out session.Session
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = getBadger(txn, id)
		return err
	})
	return out, err
}

func (b *BadgerStore) List(ctx context.Context) ([]session.Session, error) {
	out := make([]session.Session, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(badgerSessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var s session.Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			}); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Keys iterate in byte order, which equals ID order.
	return out, nil
}

func (b *BadgerStore) ListIDs(_ context.Context) ([]session.ID, error) {
	ids := make([]session.ID, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(badgerSessionPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, session.ID(strings.TrimPrefix(string(it.Item().Key()), badgerSessionPrefix)))
		}
		return nil
	})
	return ids, err
}

func (b *BadgerStore) Update(_ context.Context, id session.ID, p session.Patch) (session.Session, error) {
	var out session.Session
	err := b.db.Update(func(txn *badger.Txn) error {
		cur, err := getBadger(txn, id)
		if err != nil {
			return err
		}
		out, err = b.patch(cur, p)
		if err != nil {
			return err
		}
		return setBadger(txn, out)
	})
	if err != nil {
		return session.Session{}, err
	}
	return out, nil
}

func (b *BadgerStore) Delete(_ context.Context, id session.ID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return notFound(id)
			}
			return err
		}
		return txn.Delete(badgerKey(id))
	})
}

func (b *BadgerStore) Ping(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger: database is closed")
	}
	return nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }
