package storecache

// Hooks lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "expired", "value_decode"}
	SelfHeal(storageKey, reason string)

	// The store refused a write for capacity (err is nil when it only returned ok=false).
	// A sweep follows; the write is not retried.
	WriteSkipped(storageKey string, err error)

	// A store call failed and was degraded to a miss or a no-op.
	// op ∈ {"get", "set", "del", "keys"}
	StoreError(op string, err error)

	// A sweep pass finished.
	Swept(scanned, removed int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) WriteSkipped(string, error) {}
func (NopHooks) StoreError(string, error)   {}
func (NopHooks) Swept(int, int)             {}
