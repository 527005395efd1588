// Package provider defines the storage abstraction used by storecache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// A store may be shared by unrelated callers; storecache isolates them by key
// prefix only ("<namespace>:"). Writes under another cache's prefix are treated
// as that cache's entries and may be swept if they do not parse.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrQuotaExceeded is returned (possibly wrapped) by Set when the store has no
// room for the write. storecache reacts by sweeping stale entries.
var ErrQuotaExceeded = errors.New("provider: quota exceeded")

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost and ttl if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate their keys.
// Only these stores take part in sweeps.
type Lister interface {
	// Keys returns every key starting with prefix ("" => all keys).
	Keys(ctx context.Context, prefix string) ([]string, error)
}
