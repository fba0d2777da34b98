package bus

import (
	"sync"
	"time"
)

// DedupeCache drops replayed chat requests. Clients retry chat.send over
// reconnecting WebSockets, so the same request ID can arrive more than once;
// the first arrival wins within the TTL window.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]int64 // request ID → unix millis
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache creates a dedupe cache. Entries expire after ttl and are
// pruned lazily; maxSize bounds memory when pruning cannot keep up.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	return &DedupeCache{
		entries: make(map[string]int64, 256),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate reports whether key was already seen within the TTL window.
// A fresh key is recorded for future checks.
func (d *DedupeCache) IsDuplicate(key string) bool {
	now := time.Now().UnixMilli()
	cutoff := now - d.ttl.Milliseconds()

	d.mu.Lock()
	defer d.mu.Unlock()

	if ts, ok := d.entries[key]; ok && ts >= cutoff {
		return true
	}

	d.cleanup(cutoff)
	d.entries[key] = now
	return false
}

// cleanup removes expired entries and evicts arbitrarily when still over
// maxSize. Must be called with d.mu held.
func (d *DedupeCache) cleanup(cutoff int64) {
	for k, ts := range d.entries {
		if ts < cutoff {
			delete(d.entries, k)
		}
	}

	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		excess := len(d.entries) - d.maxSize + 1
		for k := range d.entries {
			if excess <= 0 {
				break
			}
			delete(d.entries, k)
			excess--
		}
	}
}
