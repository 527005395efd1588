// Package asynchook moves cache hook callbacks off the hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := storecache.New[[]byte](storecache.Options[[]byte]{
//	    Namespace: "theme",
//	    Provider:  memory.New(0),
//	    Codec:     codec.Bytes{},
//	    Hooks:     hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/storecache"
)

type Hooks struct {
	inner   storecache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ storecache.Hooks = (*Hooks)(nil)

func New(inner storecache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = storecache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events raised after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// lost a race with Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)         { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) WriteSkipped(k string, e error) { h.try(func() { h.inner.WriteSkipped(k, e) }) }
func (h *Hooks) StoreError(op string, e error)  { h.try(func() { h.inner.StoreError(op, e) }) }
func (h *Hooks) Swept(scanned, removed int) {
	h.try(func() { h.inner.Swept(scanned, removed) })
}
