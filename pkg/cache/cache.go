// Package cache provides the TTL response cache shared by both upstream gateways:
// a capacity-bounded LRU tier in process and an optional shared Redis tier.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// RemoteStore is a shared second tier. Implementations must expire keys by ttl.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry[V any] struct {
	payload    V
	insertedAt time.Time
	ttl        time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return e.ttl > 0 && !now.Before(e.insertedAt.Add(e.ttl))
}

// envelope is the JSON form stored in the remote tier
type envelope[V any] struct {
	Payload   V         `json:"payload"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats reports cache effectiveness
type Stats struct {
	Name       string `json:"name"`
	Entries    int    `json:"entries"`
	Capacity   int    `json:"capacity"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
	RemoteHits int64  `json:"remote_hits"`
	Expired    int64  `json:"expired"`
}

// ResponseCache maps fingerprints to payloads with a per-entry TTL.
// Payloads are shared between callers and must be treated as immutable.
type ResponseCache[V any] struct {
	name     string
	capacity int
	local    *lru.Cache[string, entry[V]]
	remote   RemoteStore
	logger   *logrus.Logger
	now      func() time.Time
	onLookup func(name string, hit bool)

	// mu serializes writers with expiry removal so a fresh entry is never removed
	// in place of the expired one it replaced. Plain reads do not take it.
	mu sync.Mutex

	hits       atomic.Int64
	misses     atomic.Int64
	remoteHits atomic.Int64
	expired    atomic.Int64
}

// Option customizes a ResponseCache
type Option[V any] func(*ResponseCache[V])

// WithRemote adds a shared second tier
func WithRemote[V any](store RemoteStore) Option[V] {
	return func(c *ResponseCache[V]) {
		c.remote = store
	}
}

// WithClock replaces time.Now
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *ResponseCache[V]) {
		c.now = now
	}
}

// WithLookupHook is called on every Get with the hit/miss result
func WithLookupHook[V any](fn func(name string, hit bool)) Option[V] {
	return func(c *ResponseCache[V]) {
		c.onLookup = fn
	}
}

// New creates a cache holding at most capacity entries locally
func New[V any](name string, capacity int, logger *logrus.Logger, opts ...Option[V]) (*ResponseCache[V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("cache %s: capacity must be positive", name)
	}
	local, err := lru.New[string, entry[V]](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating %s cache: %w", name, err)
	}
	c := &ResponseCache[V]{
		name:     name,
		capacity: capacity,
		local:    local,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the payload for key if present and unexpired
func (c *ResponseCache[V]) Get(ctx context.Context, key string) (V, bool) {
	v, ok := c.get(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.onLookup != nil {
		c.onLookup(c.name, ok)
	}
	return v, ok
}

func (c *ResponseCache[V]) get(ctx context.Context, key string) (V, bool) {
	var zero V
	now := c.now()

	if e, ok := c.local.Get(key); ok {
		if !e.expired(now) {
			return e.payload, true
		}
		c.removeIfExpired(key, now)
	}

	if c.remote == nil {
		return zero, false
	}
	raw, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.logger.WithError(err).WithField("cache", c.name).Warn("Remote cache read failed")
		return zero, false
	}
	if !ok {
		return zero, false
	}
	var env envelope[V]
	if err := json.Unmarshal(raw, &env); err != nil {
		// Remove corrupted entry
		_ = c.remote.Delete(ctx, key)
		return zero, false
	}
	if !now.Before(env.ExpiresAt) {
		_ = c.remote.Delete(ctx, key)
		return zero, false
	}

	c.remoteHits.Add(1)
	c.mu.Lock()
	c.local.Add(key, entry[V]{payload: env.Payload, insertedAt: now, ttl: env.ExpiresAt.Sub(now)})
	c.mu.Unlock()
	return env.Payload, true
}

func (c *ResponseCache[V]) removeIfExpired(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.local.Peek(key); ok && e.expired(now) {
		c.local.Remove(key)
		c.expired.Add(1)
	}
}

// Put stores payload under key for ttl. A zero ttl never expires.
func (c *ResponseCache[V]) Put(ctx context.Context, key string, payload V, ttl time.Duration) {
	now := c.now()
	c.mu.Lock()
	c.local.Add(key, entry[V]{payload: payload, insertedAt: now, ttl: ttl})
	c.mu.Unlock()

	if c.remote == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(envelope[V]{Payload: payload, CachedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		c.logger.WithError(err).WithField("cache", c.name).Warn("Failed to encode cache entry")
		return
	}
	if err := c.remote.Set(ctx, key, raw, ttl); err != nil {
		c.logger.WithError(err).WithField("cache", c.name).Warn("Remote cache write failed")
	}
}

// Remove deletes key from both tiers
func (c *ResponseCache[V]) Remove(ctx context.Context, key string) {
	c.mu.Lock()
	c.local.Remove(key)
	c.mu.Unlock()
	if c.remote != nil {
		_ = c.remote.Delete(ctx, key)
	}
}

// Len returns the number of local entries, including expired ones not yet removed
func (c *ResponseCache[V]) Len() int {
	return c.local.Len()
}

// Stats returns cache counters
func (c *ResponseCache[V]) Stats() Stats {
	return Stats{
		Name:       c.name,
		Entries:    c.local.Len(),
		Capacity:   c.capacity,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		RemoteHits: c.remoteHits.Load(),
		Expired:    c.expired.Load(),
	}
}
