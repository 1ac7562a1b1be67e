// Package cache provides the read-through caches that shield the chain from
// repeated history and balance scans. Callers choose between an in-process
// store and a shared Redis deployment; both honour per-entry TTLs.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values under string keys with an expiry.
type Cache interface {
	// Get returns the stored value and whether the key was present and live.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores value under key for the given ttl. A non-positive ttl
	// stores nothing.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete drops a key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}
