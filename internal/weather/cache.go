package weather

import (
	"sync"
	"time"
)

// DefaultCacheTTL is the freshness window when none is configured.
const DefaultCacheTTL = 10 * time.Minute

// CacheState classifies a lookup result.
type CacheState int

const (
	CacheMiss CacheState = iota
	CacheFresh
	CacheStale
)

func (s CacheState) String() string {
	switch s {
	case CacheFresh:
		return "fresh"
	case CacheStale:
		return "stale"
	default:
		return "miss"
	}
}

// CachedEntry is one location's most recent fused result plus the moment it
// was stored.
type CachedEntry struct {
	Data     WeatherData
	CachedAt time.Time
}

// FreshnessCache holds the latest WeatherData per location key. Entries are
// deep-copied on the way in and out, so callers can never mutate a cached
// value, and a put is one atomic map-entry swap: readers see the old entry
// or the new one, never a mix. The cache also owns the per-key refresh
// latch that coalesces concurrent background refreshes.
type FreshnessCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	entries  map[string]CachedEntry
	inflight map[string]bool
}

// NewFreshnessCache builds a cache with the given TTL. A non-positive TTL
// falls back to DefaultCacheTTL.
func NewFreshnessCache(ttl time.Duration) *FreshnessCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &FreshnessCache{
		ttl:      ttl,
		entries:  make(map[string]CachedEntry),
		inflight: make(map[string]bool),
	}
}

// Get returns a copy of the entry for loc and whether it is still inside
// the TTL window. The state is CacheMiss when the location was never
// stored; the returned entry is only meaningful for the other two states.
func (c *FreshnessCache) Get(loc Location) (CachedEntry, CacheState) {
	c.mu.RLock()
	entry, ok := c.entries[loc.Key()]
	c.mu.RUnlock()

	if !ok {
		return CachedEntry{}, CacheMiss
	}

	out := CachedEntry{Data: entry.Data.Clone(), CachedAt: entry.CachedAt}
	if clock.Now().Sub(entry.CachedAt) <= c.ttl {
		return out, CacheFresh
	}
	return out, CacheStale
}

// Put stores a copy of data under the location key, superseding whatever
// was there.
func (c *FreshnessCache) Put(loc Location, data WeatherData) {
	entry := CachedEntry{Data: data.Clone(), CachedAt: clock.Now().UTC()}

	c.mu.Lock()
	c.entries[loc.Key()] = entry
	c.mu.Unlock()
}

// TryBeginRefresh claims the refresh slot for loc. It returns false when a
// refresh is already in flight, in which case the caller must not start
// another one.
func (c *FreshnessCache) TryBeginRefresh(loc Location) bool {
	key := loc.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] {
		return false
	}
	c.inflight[key] = true
	return true
}

// EndRefresh releases the refresh slot claimed by TryBeginRefresh. Callers
// release on every path, success or failure.
func (c *FreshnessCache) EndRefresh(loc Location) {
	c.mu.Lock()
	delete(c.inflight, loc.Key())
	c.mu.Unlock()
}

// Len reports how many locations currently have a cached entry.
func (c *FreshnessCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
