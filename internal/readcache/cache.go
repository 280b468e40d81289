// Package readcache stores short-lived copies of read responses so screens
// can render while the backend is slow or unreachable.
package readcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
)

// DefaultTTL is how long a cached value is served.
const DefaultTTL = 5 * time.Minute

// envelope is the stored shape: the payload plus when it was written, in
// Unix milliseconds.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Cache reads and writes {data, timestamp} envelopes in a kvstore.
type Cache struct {
	store kvstore.Store
	ttl   time.Duration
	now   func() time.Time
	log   zerolog.Logger
}

// New returns a Cache. A non-positive ttl selects DefaultTTL.
func New(store kvstore.Store, ttl time.Duration, log zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now, log: log.With().Str("component", "readcache").Logger()}
}

// Get decodes a fresh entry under key into v. Expired entries are deleted
// and reported as a miss. Read and decode failures are logged and reported
// as a miss.
func (c *Cache) Get(ctx context.Context, key string, v any) bool {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("error reading cache")
		return false
	}
	if !ok {
		return false
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("error decoding cache entry")
		return false
	}
	age := c.now().Sub(time.UnixMilli(env.Timestamp))
	if age > c.ttl {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("error removing expired cache entry")
		}
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("error decoding cached data")
		return false
	}
	return true
}

// Put stores v under key stamped with the current time. Failures are logged.
func (c *Cache) Put(ctx context.Context, key string, v any) {
	if err := c.put(ctx, key, v); err != nil {
		c.log.Error().Err(err).Str("key", key).Msg("error caching data")
	}
}

func (c *Cache) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cache data: %w", err)
	}
	return kvstore.SetJSON(ctx, c.store, key, envelope{Data: data, Timestamp: c.now().UnixMilli()})
}

// Invalidate drops keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.log.Error().Err(err).Msg("error clearing cache")
		return err
	}
	return nil
}
