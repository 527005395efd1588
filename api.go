package storecache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/storecache/codec"
	pr "github.com/unkn0wn-root/storecache/provider"
)

// SetCostFunc returns the cost reported to the provider for a write.
// Default is the encoded envelope length in bytes.
type SetCostFunc func(storageKey string, raw []byte) int64

// Cache is the TTL cache API. V is the caller's value type; serialization is
// handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get returns the stored value if present and not expired. Expired or
	// malformed entries are deleted and reported as a miss.
	Get(ctx context.Context, key string) (v V, ok bool)
	// Set stores value under key for ttl (0 => DefaultTTL). Store failures are
	// swallowed; only encode errors are returned.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	// Delete removes key (best-effort).
	Delete(ctx context.Context, key string)
	// Sweep removes entries older than StaleAfter (or unreadable) and returns
	// how many were removed.
	Sweep(ctx context.Context) int
}

// Options tune the behavior of the cache.
// Only Provider and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Provider pr.Provider
	Codec    c.Codec[V]

	Namespace      string        // key prefix isolating callers sharing one store; "" => none
	Logger         Logger        // if nil, NopLogger is used
	Hooks          Hooks         // if nil, NopHooks is used
	Clock          Clock         // if nil, wall clock
	DefaultTTL     time.Duration // 0 => 5m
	StaleAfter     time.Duration // sweep threshold; 0 => 10m
	SweepInterval  time.Duration // 0 => 5m; < 0 disables the background sweep
	Disabled       bool          // default false (enabled)
	ComputeSetCost SetCostFunc   // default len(raw)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
