package cache

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidConfig is returned by NewBounded when a bound is not positive.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Bounded is a concurrency-safe cache holding at most maxSize entries, each
// live for ttl after its most recent write.
//
// Expiry is lazy: an expired entry stays in memory (and in Len) until an
// access observes it or LRU eviction reclaims it. Every operation runs under
// a single mutex; Get mutates recency, so there is no read-only fast path.
type Bounded[V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	clock   Clock
	log     zerolog.Logger

	items map[string]*list.Element
	lru   *list.List // Front = most recently used, Back = least recently used

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
}

// Stats is a point-in-time view of a cache's size and counters.
type Stats struct {
	Len         int           `json:"len" yaml:"len"`
	MaxSize     int           `json:"max_size" yaml:"max_size"`
	TTL         time.Duration `json:"ttl" yaml:"ttl"`
	Hits        uint64        `json:"hits" yaml:"hits"`
	Misses      uint64        `json:"misses" yaml:"misses"`
	Evictions   uint64        `json:"evictions" yaml:"evictions"`
	Expirations uint64        `json:"expirations" yaml:"expirations"`
}

type options struct {
	clock Clock
	log   zerolog.Logger
}

// Option configures a Bounded cache.
type Option func(*options)

// WithClock sets the time source used to age entries.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for eviction and expiry debug events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// NewBounded creates a cache holding at most maxSize entries that expire ttl
// after their last write. Both bounds are required: there is no value that
// turns bounding off, so a practically unbounded cache needs explicit large
// numbers. ttl is accepted with one second granularity.
func NewBounded[V any](maxSize int, ttl time.Duration, opts ...Option) (*Bounded[V], error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("%w: max size must be at least 1, got %d", ErrInvalidConfig, maxSize)
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("%w: ttl must be at least 1s, got %s", ErrInvalidConfig, ttl)
	}

	o := options{clock: SystemClock{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = SystemClock{}
	}

	return &Bounded[V]{
		maxSize: maxSize,
		ttl:     ttl,
		clock:   o.clock,
		log:     o.log,
		items:   make(map[string]*list.Element, maxSize),
		lru:     list.New(),
	}, nil
}

// Get returns the value stored under key.
//
// An entry older than the TTL is removed and reported absent; it is never
// returned, not even once. A live entry becomes the most recently used.
func (c *Bounded[V]) Get(key string) (V, bool) {
	now := c.clock.Now()
	v, age, ok, expired := c.get(key, now)
	if expired {
		c.log.Debug().Str("key", key).Dur("age", age).Msg("cache entry expired")
	}
	return v, ok
}

func (c *Bounded[V]) get(key string, now time.Time) (v V, age time.Duration, ok, expired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.misses++
		return v, 0, false, false
	}

	e := el.Value.(*entry[V])
	if age = now.Sub(e.storedAt); age > c.ttl {
		c.removeElementLocked(el)
		c.expirations++
		c.misses++
		return v, age, false, true
	}

	c.lru.MoveToFront(el)
	c.hits++
	return e.value, age, true, false
}

// Set stores value under key with the current time as its write timestamp.
//
// Rewriting an existing key replaces it in place and never evicts. Inserting a
// new key into a full cache first evicts from the least recently used end,
// regardless of whether those entries have expired.
func (c *Bounded[V]) Set(key string, value V) {
	now := c.clock.Now()
	for _, k := range c.set(key, value, now) {
		c.log.Debug().Str("key", k).Msg("cache evicted")
	}
}

func (c *Bounded[V]) set(key string, value V, now time.Time) (evicted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.storedAt = now
		c.lru.MoveToFront(el)
		return nil
	}

	for len(c.items) >= c.maxSize {
		el := c.lru.Back()
		if el == nil {
			break
		}
		evicted = append(evicted, el.Value.(*entry[V]).key)
		c.removeElementLocked(el)
		c.evictions++
	}

	c.items[key] = c.lru.PushFront(&entry[V]{key: key, value: value, storedAt: now})
	return evicted
}

// Delete removes key. Deleting an absent key is a no-op.
func (c *Bounded[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElementLocked(el)
	}
}

// Clear removes every entry. Counters are kept.
func (c *Bounded[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.maxSize)
	c.lru.Init()
}

// Contains reports whether key holds a live value.
//
// It is Get without the value: an expired entry is purged and a live one is
// refreshed to most recently used. There is no side-effect-free membership test.
func (c *Bounded[V]) Contains(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Len returns the number of stored entries. Expired entries that no access
// has observed yet are still counted.
func (c *Bounded[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the stored keys from most to least recently used.
// It neither checks expiry nor touches recency.
func (c *Bounded[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, c.lru.Len())
	for el := c.lru.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[V]).key)
	}
	return out
}

// Stats returns the current size, bounds and counters.
func (c *Bounded[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:         len(c.items),
		MaxSize:     c.maxSize,
		TTL:         c.ttl,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *Bounded[V]) removeElementLocked(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}

var _ Cache[string] = (*Bounded[string])(nil)
