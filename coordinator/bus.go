package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/storecache"
)

type SubscriptionID uint64

type Handler func(Event)

type handlerEntry struct {
	id   SubscriptionID
	kind Kind
	fn   Handler
}

// bus delivers events in FIFO order from a single drain loop. Emitting while
// a drain is active (from a handler or another goroutine) only enqueues; the
// active loop picks the event up.
type bus struct {
	log   storecache.Logger
	sinks []Sink

	mu       sync.Mutex
	queue    []Event
	draining bool
	handlers []handlerEntry
	closed   bool

	nextID atomic.Uint64
}

func newBus(log storecache.Logger, sinks []Sink) *bus {
	return &bus{log: log, sinks: sinks}
}

func (b *bus) subscribe(kind Kind, fn Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || fn == nil {
		return id
	}
	b.handlers = append(b.handlers, handlerEntry{id: id, kind: kind, fn: fn})
	return id
}

func (b *bus) unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

func (b *bus) enqueue(evts ...Event) {
	b.mu.Lock()
	if !b.closed {
		b.queue = append(b.queue, evts...)
	}
	b.mu.Unlock()
}

// drain delivers queued events unless another drain is already running.
func (b *bus) drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		evt := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		handlers := b.matching(evt.Kind)
		b.mu.Unlock()

		for _, h := range handlers {
			b.call(h, evt)
		}
		for _, s := range b.sinks {
			if err := s.Publish(evt); err != nil {
				b.log.Warn("event sink failed", storecache.Fields{"kind": string(evt.Kind), "event_id": evt.ID, "err": err})
			}
		}

		b.mu.Lock()
	}
	b.queue = nil
	b.draining = false
	b.mu.Unlock()
}

func (b *bus) matching(k Kind) []handlerEntry {
	var out []handlerEntry
	for _, h := range b.handlers {
		if h.kind == k || h.kind == KindAny {
			out = append(out, h)
		}
	}
	return out
}

func (b *bus) call(h handlerEntry, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", storecache.Fields{
				"kind":         string(evt.Kind),
				"event_id":     evt.ID,
				"subscription": uint64(h.id),
				"err":          fmt.Errorf("panic: %v", r),
			})
		}
	}()
	h.fn(evt)
}

// close drops subscribers and pending events; later emits are discarded.
func (b *bus) close() {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.queue = nil
	b.mu.Unlock()
}
