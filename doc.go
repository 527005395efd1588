// Package storecache implements a TTL cache over pluggable byte stores for
// storefront clients. Every entry is written as a small envelope carrying the
// payload, the time it was stored and its TTL, so any store (in-memory, BigCache,
// Ristretto, Redis) can be swept on the same rules.
//
// Components:
//   - Provider: byte store (see package provider). Stores that can enumerate their
//     keys implement provider.Lister and take part in sweeps.
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Envelope: {"data": ..., "storedAt": <unix ms>, "ttl": <ms>} (internal/wire).
//
// Expiry rules:
//
//	Get   - entry is valid iff now - storedAt <= ttl; anything else is deleted and missed
//	Sweep - entries older than StaleAfter are deleted regardless of their own ttl
//	Set   - a store that refuses a write for capacity triggers a sweep; the write is not retried
//
// The cache is an optimization only: store failures never reach the caller, they
// degrade to a miss or a skipped write.
package storecache
