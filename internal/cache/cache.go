// Package cache memoizes stage artifacts by content fingerprint. Entries are
// bounded by count (least recently used evicted first) and expire after a
// per-entry TTL. A Cache is shared by every scheduler worker.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxSize is used when New is given a non-positive size.
const DefaultMaxSize = 1024

// Key derives the cache key of a stage artifact. Parts are length-prefixed so
// that ("ab", "c") and ("a", "bc") never collide.
func Key(fingerprint, stageID, providerID string) string {
	hasher := blake3.New()
	var lenBuf [8]byte
	for _, part := range []string{fingerprint, stageID, providerID} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		_, _ = hasher.Write(lenBuf[:])
		_, _ = hasher.Write([]byte(part))
	}
	return fmt.Sprintf("%x", hasher.Sum(nil))
}

// Entry is one memoized artifact.
type Entry struct {
	Value      string
	InsertedAt time.Time
	TTL        time.Duration
}

// Expired reports whether the entry is unusable at now.
func (e Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.InsertedAt.Add(e.TTL))
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Size      int
}

// Cache is an LRU cache with per-entry TTL, safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	lru        *simplelru.LRU[string, Entry]
	defaultTTL time.Duration
	now        func() time.Time
	group      singleflight.Group

	hits, misses, evictions, expired uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache holding at most maxSize entries. defaultTTL applies to
// Put calls with a non-positive ttl; zero means entries never expire.
func New(maxSize int, defaultTTL time.Duration, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	// NewLRU only fails on a non-positive size
	l, _ := simplelru.NewLRU[string, Entry](maxSize, nil)

	c := &Cache{
		lru:        l,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the value stored under key. Expired entries are removed and
// reported as absent.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return "", false
	}
	if entry.Expired(c.now()) {
		c.lru.Remove(key)
		c.expired++
		c.misses++
		return "", false
	}
	c.hits++
	return entry.Value, true
}

// Put stores value under key. The last write wins.
func (c *Cache) Put(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, Entry{Value: value, InsertedAt: c.now(), TTL: ttl}); evicted {
		c.evictions++
	}
}

// GetOrCompute returns the cached value for key, or calls compute and stores
// its result. Concurrent misses for the same key share one compute call,
// which runs on a context detached from any single caller's cancellation;
// each caller stops waiting when its own ctx is done. hit reports whether
// the value came from the cache.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (string, error)) (value string, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// another caller may have stored it while we waited for the group
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		out, err := compute(shared)
		if err != nil {
			return "", err
		}
		c.Put(key, out, ttl)
		return out, nil
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil
	}
}

// peek looks a key up without touching counters or recency.
func (c *Cache) peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Peek(key)
	if !ok || entry.Expired(c.now()) {
		return "", false
	}
	return entry.Value, true
}

// Len returns the number of resident entries, including expired ones not yet read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Purge drops every entry. Counters are kept.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      c.lru.Len(),
	}
}
