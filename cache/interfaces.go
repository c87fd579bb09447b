// Package cache provides a bounded, time-aware in-memory cache with
// least-recently-used eviction, used in front of expensive remote fetches.
package cache

import "time"

// Clock is the source of "now" used for entry ages.
// time.Now carries a monotonic reading, so ages computed with Sub never go
// backwards even if the wall clock is adjusted.
type Clock interface {
	Now() time.Time
}

// Reader defines the interface for reading cache entries
type Reader[V any] interface {
	// Get returns the value and true if the key is present and not expired.
	// A successful Get refreshes the entry's recency.
	Get(key string) (V, bool)
}

// Writer defines the interface for writing and invalidating cache entries
type Writer[V any] interface {
	// Set stores value under key, evicting least recently used entries when full.
	Set(key string, value V)
	// Delete removes key if present.
	Delete(key string)
	// Clear removes all entries.
	Clear()
}

// Cache is the main interface that combines all cache operations
type Cache[V any] interface {
	Reader[V]
	Writer[V]
	// Contains reports whether Get would return a value. It has the same side
	// effects as Get.
	Contains(key string) bool
	// Len returns the current entry count, expired entries included.
	Len() int
}

// SystemClock reads the process clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
