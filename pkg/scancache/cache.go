// Package scancache memoizes per-module component descriptor lists across
// discovery runs. Entries are validated by artifact fingerprint on every
// lookup, so a rebuilt module artifact is re-scanned without any explicit
// invalidation call.
package scancache

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bindkit/bindkit/pkg/discovery"
)

// Fingerprint captures the identity of a module artifact at a point in time.
type Fingerprint struct {
	// ModTime is the artifact's last modification time in UTC.
	ModTime time.Time `json:"mod_time"`

	// Size is the artifact's size in bytes.
	Size int64 `json:"size"`

	// Dynamic marks in-memory modules that have no backing artifact.
	Dynamic bool `json:"dynamic,omitempty"`
}

// Equal reports whether two fingerprints are identical. Both fields must
// match exactly; there is no freshness tolerance.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Dynamic == other.Dynamic && f.Size == other.Size && f.ModTime.Equal(other.ModTime)
}

// dynamicFingerprint is the sentinel for modules without a backing artifact.
// Entries stored under it stay valid until Clear or Evict.
var dynamicFingerprint = Fingerprint{Dynamic: true}

// fingerprintOf probes the module's artifact. The second return value is
// false when the artifact cannot be probed; such modules are treated as
// uncacheable rather than failing the run.
func fingerprintOf(module discovery.Module) (Fingerprint, bool) {
	path := module.ArtifactPath()
	if path == "" {
		return dynamicFingerprint, true
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, false
	}
	return Fingerprint{ModTime: info.ModTime().UTC(), Size: info.Size()}, true
}

// entry is one cached scan outcome.
type entry struct {
	descriptors []discovery.ComponentDescriptor
	fingerprint Fingerprint
	cachedAt    time.Time
}

// Cache is a concurrency-safe module scan cache. The zero value is not
// usable; construct with NewCache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	hits    atomic.Int64
	misses  atomic.Int64
	logger  zerolog.Logger
}

// NewCache creates an empty scan cache.
func NewCache(logger zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		logger:  logger.With().Str("component", "scan-cache").Logger(),
	}
}

// TryGet returns the cached descriptors for the module when the stored
// fingerprint still matches the artifact on disk. A stale or unprobeable
// entry is evicted and reported as a miss.
func (c *Cache) TryGet(module discovery.Module) ([]discovery.ComponentDescriptor, bool) {
	key := module.Ref().Key()

	c.mu.RLock()
	cached, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.misses.Add(1)
		return nil, false
	}

	current, valid := fingerprintOf(module)
	if !valid || !current.Equal(cached.fingerprint) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Store may have
		// refreshed the entry.
		if still, ok := c.entries[key]; ok && still == cached {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		c.misses.Add(1)
		c.logger.Debug().
			Str("module", key).
			Bool("probe_failed", !valid).
			Msg("Cache entry invalidated by fingerprint mismatch")
		return nil, false
	}

	c.hits.Add(1)
	return copyDescriptors(cached.descriptors), true
}

// Store records the module's descriptors under its current fingerprint.
// Modules whose artifact cannot be probed are not stored.
func (c *Cache) Store(module discovery.Module, descriptors []discovery.ComponentDescriptor) {
	key := module.Ref().Key()

	fingerprint, valid := fingerprintOf(module)
	if !valid {
		c.logger.Warn().
			Str("module", key).
			Str("artifact", module.ArtifactPath()).
			Msg("Skipping cache store, artifact cannot be probed")
		return
	}

	e := &entry{
		descriptors: copyDescriptors(descriptors),
		fingerprint: fingerprint,
		cachedAt:    time.Now(),
	}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	c.logger.Debug().
		Str("module", key).
		Int("descriptors", len(descriptors)).
		Bool("dynamic", fingerprint.Dynamic).
		Msg("Module scan cached")
}

// Evict removes the entry for the given module key and reports whether an
// entry was present.
func (c *Cache) Evict(moduleKey string) bool {
	c.mu.Lock()
	_, existed := c.entries[moduleKey]
	delete(c.entries, moduleKey)
	c.mu.Unlock()

	if existed {
		c.logger.Debug().Str("module", moduleKey).Msg("Cache entry evicted")
	}
	return existed
}

// Clear removes all entries and resets the hit and miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.hits.Store(0)
	c.misses.Store(0)
	c.mu.Unlock()

	c.logger.Debug().Msg("Cache cleared")
}

// Snapshot is a point-in-time view of cache effectiveness.
type Snapshot struct {
	// TotalRequests is the number of TryGet calls since the last Clear.
	TotalRequests int64 `json:"total_requests"`

	// Hits is the number of requests served from the cache.
	Hits int64 `json:"hits"`

	// Misses is the number of requests that required a fresh scan.
	Misses int64 `json:"misses"`

	// Entries is the number of modules currently cached.
	Entries int `json:"entries"`

	// TotalDescriptors is the number of descriptors across all entries.
	TotalDescriptors int `json:"total_descriptors"`

	// HitRatio is Hits over TotalRequests, 0 when no requests were made.
	HitRatio float64 `json:"hit_ratio"`
}

// Stats returns a consistent snapshot of the cache counters and contents.
func (c *Cache) Stats() Snapshot {
	c.mu.RLock()
	entries := len(c.entries)
	descriptors := 0
	for _, e := range c.entries {
		descriptors += len(e.descriptors)
	}
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	ratio := 0.0
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return Snapshot{
		TotalRequests:    total,
		Hits:             hits,
		Misses:           misses,
		Entries:          entries,
		TotalDescriptors: descriptors,
		HitRatio:         ratio,
	}
}

// Keys returns the module keys currently cached.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

func copyDescriptors(descriptors []discovery.ComponentDescriptor) []discovery.ComponentDescriptor {
	out := make([]discovery.ComponentDescriptor, len(descriptors))
	copy(out, descriptors)
	return out
}
