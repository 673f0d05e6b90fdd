package cache

import "time"

// Cache is a generic key/value store with optional per-entry expiration.
type Cache[K any, V any] interface {
	// Add stores value under key. Pass expiration=0 to disable expiry.
	Add(key K, value V, expiration time.Duration) bool

	// Get returns the value stored under key, if any.
	Get(key K) (V, bool)

	// Update replaces the value stored under key, optionally refreshing its expiry.
	Update(key K, newValue V, expiration time.Duration) bool

	// Exists reports whether key is currently present.
	Exists(key K) bool

	// Keys returns a snapshot of all keys currently present.
	Keys() []K

	// Delete removes key, reporting whether it is gone afterwards.
	Delete(key K) bool
}
