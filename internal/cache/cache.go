// Package cache is the thin best-effort key/value layer in front of the
// time-series store. The cache is an optimization, never a source of truth:
// every operation swallows connection and timeout errors after logging
// them, so callers treat a failed read as "not present" and a failed write
// or delete as a no-op. Every endpoint works with the cache fully down.
package cache

import (
	"context"
	"time"
)

// Cache is the best-effort key/value contract the handlers depend on. The
// Redis client implements it; tests use fakes or miniredis.
type Cache interface {
	// Get returns the cached value and true on a hit. Misses and errors
	// both report false.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key with the given TTL, best-effort.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Delete removes key, best-effort.
	Delete(ctx context.Context, key string)
	// InvalidateDevice drops the realtime entry for a device.
	InvalidateDevice(ctx context.Context, deviceID string)
}

// RealtimeKey is the cache key holding the latest encoded sample for a
// device.
func RealtimeKey(deviceID string) string {
	return "realtime:" + deviceID
}
