// Package cache implements the bounded, keyed in-memory store shared by
// navigators, DAQ systems and sessions.
//
// Entries are addressed by (key, type). The cache never holds more than its
// byte budget: an Add that does not fit either evicts lower-priority and
// older (FIFO) or newer (LIFO) entries, or is rejected outright (Error
// policy). The entry being added is itself a candidate for eviction; if it
// would be chosen, the Add fails and nothing is removed.
//
// The cache is safe for concurrent use. It never calls back into user code
// while holding its lock.
package cache

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/ndicore/internal/ndierr"
)

// Policy selects how victims are chosen when an Add does not fit.
type Policy string

const (
	// FIFO evicts the oldest entries first.
	FIFO Policy = "fifo"
	// LIFO evicts the newest entries first.
	LIFO Policy = "lifo"
	// Error rejects any Add that does not fit, without evicting.
	Error Policy = "error"
)

// ParsePolicy converts a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case FIFO, LIFO, Error:
		return p, nil
	}
	return "", ndierr.Invalid("cache.parse_policy", "unknown replacement policy %q", s)
}

// DefaultMaxBytes is the budget of the shared cache.
const DefaultMaxBytes int64 = 10_000_000_000

// Clock supplies entry timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Entry is one cached item.
type Entry struct {
	Key       string
	Type      string
	Timestamp time.Time
	Priority  int
	Bytes     int64
	Data      any

	seq uint64
}

// Cache is a bounded keyed store.
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	policy   Policy
	clock    Clock
	logger   *slog.Logger

	entries []*Entry // insertion order
	used    int64
	seq     uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the timestamp source.
func WithClock(c Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// WithLogger sets the logger used for eviction messages.
func WithLogger(l *slog.Logger) Option {
	return func(cache *Cache) { cache.logger = l }
}

// New creates a cache with the given byte budget and replacement policy.
func New(maxBytes int64, policy Policy, opts ...Option) *Cache {
	c := &Cache{
		maxBytes: maxBytes,
		policy:   policy,
		clock:    systemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	sharedOnce sync.Once
	shared     *Cache
)

// Shared returns the process-wide cache (FIFO, DefaultMaxBytes).
func Shared() *Cache {
	sharedOnce.Do(func() {
		shared = New(DefaultMaxBytes, FIFO)
	})
	return shared
}

// MaxBytes returns the byte budget.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }

// Policy returns the replacement policy.
func (c *Cache) Policy() Policy { return c.policy }

// Bytes returns the total size of all entries.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Add stores data under (key, typ), replacing any entry with the same key
// and type. It fails with CAPACITY_EXCEEDED when the data is larger than the
// budget, when the policy is Error and the data does not fit, or when the
// new entry would itself be chosen for eviction.
func (c *Cache) Add(key, typ string, data any, priority int) error {
	size := SizeOf(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.maxBytes {
		return &ndierr.Error{
			Kind:    ndierr.KindCapacityExceeded,
			Op:      "cache.add",
			Entity:  "cache entry",
			ID:      key,
			Message: fmt.Sprintf("entry of %d bytes exceeds budget of %d bytes", size, c.maxBytes),
		}
	}

	c.seq++
	candidate := &Entry{
		Key:       key,
		Type:      typ,
		Timestamp: c.clock.Now(),
		Priority:  priority,
		Bytes:     size,
		Data:      data,
		seq:       c.seq,
	}

	replaced := c.indexLocked(key, typ)
	used := c.used
	if replaced >= 0 {
		used -= c.entries[replaced].Bytes
	}

	var victims []*Entry
	if used+size > c.maxBytes {
		if c.policy == Error {
			return &ndierr.Error{
				Kind:    ndierr.KindCapacityExceeded,
				Op:      "cache.add",
				Entity:  "cache entry",
				ID:      key,
				Message: fmt.Sprintf("cache full (%d of %d bytes used) and policy is %q", used, c.maxBytes, c.policy),
			}
		}

		pool := make([]*Entry, 0, len(c.entries)+1)
		for i, e := range c.entries {
			if i != replaced {
				pool = append(pool, e)
			}
		}
		pool = append(pool, candidate)
		slices.SortFunc(pool, c.evictionOrder)

		need := used + size - c.maxBytes
		var freed int64
		for _, e := range pool {
			if freed >= need {
				break
			}
			if e == candidate {
				return &ndierr.Error{
					Kind:    ndierr.KindCapacityExceeded,
					Op:      "cache.add",
					Entity:  "cache entry",
					ID:      key,
					Message: "entry would be evicted by the replacement policy",
				}
			}
			victims = append(victims, e)
			freed += e.Bytes
		}
	}

	if replaced >= 0 {
		victims = append(victims, c.entries[replaced])
	}
	if len(victims) > 0 {
		c.entries = slices.DeleteFunc(c.entries, func(e *Entry) bool {
			return slices.Contains(victims, e)
		})
		for _, v := range victims {
			c.used -= v.Bytes
		}
		c.logger.Debug("cache eviction", "evicted", len(victims), "key", key, "type", typ)
	}

	c.entries = append(c.entries, candidate)
	c.used += size
	return nil
}

// evictionOrder sorts the first victim first: lowest priority, then oldest
// (FIFO) or newest (LIFO). Insertion order breaks timestamp ties.
func (c *Cache) evictionOrder(a, b *Entry) int {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return -1
		}
		return 1
	}
	byTime := a.Timestamp.Compare(b.Timestamp)
	if byTime == 0 {
		switch {
		case a.seq < b.seq:
			byTime = -1
		case a.seq > b.seq:
			byTime = 1
		}
	}
	if c.policy == LIFO {
		return -byTime
	}
	return byTime
}

func (c *Cache) indexLocked(key, typ string) int {
	for i, e := range c.entries {
		if e.Key == key && e.Type == typ {
			return i
		}
	}
	return -1
}

// Lookup returns the entry stored under (key, typ). It does not refresh the
// entry's timestamp.
func (c *Cache) Lookup(key, typ string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexLocked(key, typ); i >= 0 {
		return *c.entries[i], true
	}
	return Entry{}, false
}

// Remove deletes the entry stored under (key, typ). It reports whether an
// entry was removed.
func (c *Cache) Remove(key, typ string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexLocked(key, typ)
	if i < 0 {
		return false
	}
	c.removeAtLocked(i)
	return true
}

// RemoveIndex deletes the i-th entry in insertion order.
func (c *Cache) RemoveIndex(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i < 0 || i >= len(c.entries) {
		return ndierr.Invalid("cache.remove_index", "index %d out of range [0,%d)", i, len(c.entries))
	}
	c.removeAtLocked(i)
	return nil
}

// RemoveKey deletes every entry with the given key regardless of type and
// returns how many were removed.
func (c *Cache) RemoveKey(key string) int {
	return c.RemoveMatching(func(e Entry) bool { return e.Key == key })
}

// RemoveMatching deletes every entry for which match returns true and
// returns how many were removed. match receives copies and must not call
// back into the cache.
func (c *Cache) RemoveMatching(match func(Entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	c.entries = slices.DeleteFunc(c.entries, func(e *Entry) bool {
		if match(*e) {
			c.used -= e.Bytes
			n++
			return true
		}
		return false
	})
	return n
}

func (c *Cache) removeAtLocked(i int) {
	c.used -= c.entries[i].Bytes
	c.entries = slices.Delete(c.entries, i, i+1)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.used = 0
}

// Entries returns copies of all entries in insertion order.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = *e
	}
	return out
}
