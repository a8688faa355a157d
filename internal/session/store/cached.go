package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ManuGH/distvote/internal/cache"
	"github.com/ManuGH/distvote/internal/log"
	"github.com/ManuGH/distvote/internal/metrics"
	"github.com/ManuGH/distvote/internal/session"
)

const (
	cacheKeyList    = "sessions:list"
	cacheKeySession = "session:"
)

// CachedStore serves Get and List from a cache and invalidates on writes.
type CachedStore struct {
	Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps next. A non-positive ttl disables caching.
func NewCachedStore(next Store, c cache.Cache, ttl time.Duration) *CachedStore {
	if c == nil || ttl <= 0 {
		c = cache.NewNoOpCache()
	}
	return &CachedStore{Store: next, cache: c, ttl: ttl}
}

func sessionKey(id session.ID) string { return cacheKeySession + string(id) }

func (c *CachedStore) Get(ctx context.Context, id session.ID) (session.Session, error) {
	key := sessionKey(id)
	if raw, ok := c.cache.Get(ctx, key); ok {
		var s session.Session
		if err := json.Unmarshal(raw, &s); err == nil {
			metrics.RecordCacheLookup(true)
			return s, nil
		}
		log.FromContext(ctx).Warn().Str(log.FieldEvent, "cache.decode_failed").Str("key", key).Msg("dropping undecodable cache entry")
		c.cache.Delete(ctx, key)
	}
	metrics.RecordCacheLookup(false)

	s, err := c.Store.Get(ctx, id)
	if err != nil {
		return s, err
	}
	c.put(ctx, key, s)
	return s, nil
}

func (c *CachedStore) List(ctx context.Context) ([]session.Session, error) {
	if raw, ok := c.cache.Get(ctx, cacheKeyList); ok {
		var ss []session.Session
		if err := json.Unmarshal(raw, &ss); err == nil && ss != nil {
			metrics.RecordCacheLookup(true)
			return ss, nil
		}
		c.cache.Delete(ctx, cacheKeyList)
	}
	metrics.RecordCacheLookup(false)

	ss, err := c.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	c.put(ctx, cacheKeyList, ss)
	return ss, nil
}

func (c *CachedStore) Create(ctx context.Context, s session.Session) (session.Session, error) {
	out, err := c.Store.Create(ctx, s)
	if err == nil {
		c.cache.Delete(ctx, cacheKeyList)
	}
	return out, err
}

func (c *CachedStore) Update(ctx context.Context, id session.ID, p session.Patch) (session.Session, error) {
	out, err := c.Store.Update(ctx, id, p)
	c.cache.Delete(ctx, sessionKey(id), cacheKeyList)
	return out, err
}

func (c *CachedStore) Delete(ctx context.Context, id session.ID) error {
	err := c.Store.Delete(ctx, id)
	c.cache.Delete(ctx, sessionKey(id), cacheKeyList)
	return err
}

// Close closes the wrapped store and the cache.
func (c *CachedStore) Close() error {
	err := c.Store.Close()
	if cerr := c.cache.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *CachedStore) put(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.cache.Set(ctx, key, raw, c.ttl)
}
