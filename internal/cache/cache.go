// Package cache memoizes gateway results for one widget instance.
//
// Entries expire lazily: a lookup after the TTL removes the entry and reports
// a miss. There is no background sweep. Keys are a request kind plus a bounded
// prefix of the normalized input, so long inputs that differ only past the
// prefix share an entry.
package cache

import (
	"strings"
	"sync"
	"time"
	"unicode"

	gocache "github.com/patrickmn/go-cache"
)

// Defaults
const (
	DefaultTTL            = 5 * time.Minute
	DefaultMaxEntries     = 256
	DefaultKeyPrefixChars = 200
)

// Entry is a cached payload and the time it was stored.
type Entry struct {
	Value     any
	CreatedAt time.Time
}

// Options configures a Cache. Zero values take the defaults.
type Options struct {
	TTL            time.Duration
	MaxEntries     int
	KeyPrefixChars int
	Now            func() time.Time
}

// Cache is a TTL cache with a capacity bound.
type Cache struct {
	mu     sync.Mutex
	store  *gocache.Cache
	ttl    time.Duration
	max    int
	prefix int
	now    func() time.Time
}

// New creates a cache. The go-cache janitor is disabled.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.KeyPrefixChars <= 0 {
		opts.KeyPrefixChars = DefaultKeyPrefixChars
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:  gocache.New(gocache.NoExpiration, 0),
		ttl:    opts.TTL,
		max:    opts.MaxEntries,
		prefix: opts.KeyPrefixChars,
		now:    opts.Now,
	}
}

// Key builds the cache key for a request kind and its semantic input.
func (c *Cache) Key(kind, input string) string {
	return BuildKey(kind, input, c.prefix)
}

// BuildKey returns "<kind>:<first n runes of normalized input>".
func BuildKey(kind, input string, n int) string {
	norm := normalize(input)
	if n > 0 {
		count := 0
		for i := range norm {
			if count == n {
				norm = norm[:i]
				break
			}
			count++
		}
	}
	return kind + ":" + norm
}

// normalize trims, lowercases and collapses whitespace runs to one space.
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			sb.WriteByte(' ')
			space = false
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// Get returns the payload for key if it is younger than the TTL.
// An expired entry is removed.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(Entry)
	if c.now().Sub(e.CreatedAt) >= c.ttl {
		c.store.Delete(key)
		return nil, false
	}
	return e.Value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.store.Get(key); !exists && c.store.ItemCount() >= c.max {
		c.evictLocked(now)
	}
	c.store.Set(key, Entry{Value: value, CreatedAt: now}, gocache.NoExpiration)
}

// evictLocked drops expired entries, then the oldest one if still full.
func (c *Cache) evictLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for k, item := range c.store.Items() {
		e := item.Object.(Entry)
		if now.Sub(e.CreatedAt) >= c.ttl {
			c.store.Delete(k)
			continue
		}
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if c.store.ItemCount() >= c.max && oldestKey != "" {
		c.store.Delete(oldestKey)
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
}

// Len returns the number of stored entries, including expired ones not yet looked up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.ItemCount()
}
