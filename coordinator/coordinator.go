package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/storecache"
)

const (
	defaultSubmitTimeout  = 15 * time.Second
	defaultFailureMessage = "Failed to add to cart. Please try again."
)

// DefaultSections are re-rendered after a successful submission.
var DefaultSections = []string{"cart-drawer", "cart-icon-bubble"}

var validate = validator.New()

// Options configures a Coordinator. Only Cart is required.
type Options struct {
	Cart CartAPI `validate:"required"`

	// Initial state. Quantity 0 => 1; Submitting is ignored.
	Initial PurchaseState

	Sections      []string      `validate:"dive,required"` // nil => DefaultSections
	SubmitTimeout time.Duration `validate:"gte=0"`         // 0 => 15s

	Control        SubmitControl     `validate:"-"` // nil => no-op
	Notifier       Notifier          `validate:"-"` // nil => failures are only logged
	Renderer       Renderer          `validate:"-"` // nil => sections are not fetched
	Sinks          []Sink            `validate:"-"`
	Logger         storecache.Logger `validate:"-"`
	Clock          storecache.Clock  `validate:"-"`
	FailureMessage string            // "" => default shopper notice
}

// Coordinator serializes purchase-configuration changes for one product form.
// It is safe for concurrent use.
type Coordinator struct {
	cart          CartAPI
	sections      []string
	submitTimeout time.Duration
	control       SubmitControl
	notifier      Notifier
	renderer      Renderer
	log           storecache.Logger
	clock         storecache.Clock
	failureMsg    string

	bus   *bus
	ready sync.Once

	mu     sync.Mutex
	state  PurchaseState
	gifts  map[string]GiftSource
	closed bool
}

func New(opts Options) (*Coordinator, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("coordinator: invalid options: %w", err)
	}

	c := &Coordinator{
		cart:          opts.Cart,
		sections:      opts.Sections,
		submitTimeout: opts.SubmitTimeout,
		control:       opts.Control,
		notifier:      opts.Notifier,
		renderer:      opts.Renderer,
		log:           opts.Logger,
		clock:         opts.Clock,
		failureMsg:    opts.FailureMessage,
		gifts:         make(map[string]GiftSource),
	}
	if c.sections == nil {
		c.sections = DefaultSections
	}
	if c.submitTimeout == 0 {
		c.submitTimeout = defaultSubmitTimeout
	}
	if c.control == nil {
		c.control = nopControl{}
	}
	if c.log == nil {
		c.log = storecache.NopLogger{}
	}
	if c.clock == nil {
		c.clock = storecache.SystemClock
	}
	if c.failureMsg == "" {
		c.failureMsg = defaultFailureMessage
	}

	c.state = opts.Initial.clone()
	c.state.Submitting = false
	c.state.IsSubscription = c.state.SellingPlanID != ""
	if c.state.Quantity == 0 {
		c.state.Quantity = 1
	}
	c.bus = newBus(c.log, opts.Sinks)
	return c, nil
}

// Start announces the coordinator with its initial state. Only the first
// call emits.
func (c *Coordinator) Start() {
	c.ready.Do(func() {
		c.mu.Lock()
		c.enqueue(Ready{State: c.state.clone()})
		c.mu.Unlock()
		c.bus.drain()
	})
}

// Close detaches every subscriber and rejects further submissions and
// mutations. A submission already in flight still settles.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.bus.close()
}

// State returns a copy of the current purchase state.
func (c *Coordinator) State() PurchaseState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Subscribe registers fn for events of kind (KindAny for all). Handlers run
// on the goroutine draining the bus, one event at a time.
func (c *Coordinator) Subscribe(kind Kind, fn Handler) SubscriptionID {
	return c.bus.subscribe(kind, fn)
}

func (c *Coordinator) Unsubscribe(id SubscriptionID) { c.bus.unsubscribe(id) }

// RegisterGiftSource adds (or replaces) a named gift source. Sources are
// consulted in name order at submission.
func (c *Coordinator) RegisterGiftSource(name string, src GiftSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src == nil {
		delete(c.gifts, name)
		return
	}
	c.gifts[name] = src
}

func (c *Coordinator) UnregisterGiftSource(name string) {
	c.mu.Lock()
	delete(c.gifts, name)
	c.mu.Unlock()
}

// Dispatch normalizes a widget event and applies it. Echoes of the
// coordinator's own events are ignored.
func (c *Coordinator) Dispatch(raw RawEvent) error {
	p, err := Normalize(raw)
	if errors.Is(err, ErrEchoEvent) {
		c.log.Debug("ignored echoed event", storecache.Fields{"event": raw.Name})
		return nil
	}
	if err != nil {
		c.log.Debug("rejected widget event", storecache.Fields{"event": raw.Name, "err": err})
		return err
	}
	return c.apply(p)
}

func (c *Coordinator) SelectVariant(id int64) error {
	if id <= 0 {
		return invalidState("variant %d", id)
	}
	return c.apply(VariantChanged{VariantID: id})
}

func (c *Coordinator) SetQuantity(qty int) error {
	if qty < 1 {
		return invalidState("quantity %d", qty)
	}
	return c.apply(QuantityChanged{Quantity: qty})
}

// SetSubscription selects a selling plan; "" switches to one-time purchase.
func (c *Coordinator) SetSubscription(plan string) error {
	return c.apply(SubscriptionChanged{SellingPlanID: plan, IsSubscription: plan != ""})
}

// SetFrequency swaps the selling plan of an active subscription.
func (c *Coordinator) SetFrequency(plan string) error {
	if plan == "" {
		return invalidState("empty selling plan")
	}
	return c.apply(FrequencyChanged{SellingPlanID: plan})
}

// SelectBundle makes items the submitted lines. qty 0 leaves the quantity as is.
func (c *Coordinator) SelectBundle(items []BundleItem, qty int) error {
	if qty < 0 {
		return invalidState("quantity %d", qty)
	}
	for _, it := range items {
		if err := validate.Struct(it); err != nil {
			return invalidState("bundle line: %v", err)
		}
	}
	return c.apply(BundleSelected{Items: append([]BundleItem(nil), items...), Quantity: qty})
}

func (c *Coordinator) ClearBundle() error {
	return c.apply(BundleSelected{})
}

func (c *Coordinator) UpdatePrices(p Prices, qty int) error {
	if qty < 0 {
		return invalidState("quantity %d", qty)
	}
	return c.apply(PricesUpdated{Prices: p, Quantity: qty})
}

// apply mutates state and queues the resulting events while holding mu, so
// delivery order matches application order.
func (c *Coordinator) apply(p Payload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	s := &c.state
	switch v := p.(type) {
	case VariantChanged:
		s.VariantID = v.VariantID
		c.enqueue(v)
	case QuantityChanged:
		s.Quantity = v.Quantity
		c.enqueue(v, c.giftsUpdate())
	case SubscriptionChanged:
		s.setPlan(v.SellingPlanID)
		c.enqueue(SubscriptionChanged{SellingPlanID: s.SellingPlanID, IsSubscription: s.IsSubscription}, c.giftsUpdate())
	case FrequencyChanged:
		if !s.IsSubscription {
			c.mu.Unlock()
			c.log.Debug("frequency change ignored: no active subscription", storecache.Fields{"selling_plan": v.SellingPlanID})
			return nil
		}
		s.setPlan(v.SellingPlanID)
		c.enqueue(v)
	case BundleSelected:
		s.BundleItems = append([]BundleItem(nil), v.Items...)
		if len(s.BundleItems) == 0 {
			s.BundleItems = nil
		}
		if v.Quantity > 0 {
			s.Quantity = v.Quantity
		}
		c.enqueue(BundleSelected{Items: s.clone().BundleItems, Quantity: s.Quantity}, c.giftsUpdate())
	case PricesUpdated:
		s.Prices = v.Prices
		if v.Quantity > 0 {
			s.Quantity = v.Quantity
		}
		if len(v.Items) > 0 {
			s.BundleItems = append([]BundleItem(nil), v.Items...)
		}
		c.enqueue(PricesUpdated{Prices: s.Prices, Quantity: s.Quantity, Items: v.Items})
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: %s cannot be applied", ErrUnknownEvent, p.Kind())
	}
	c.mu.Unlock()
	c.bus.drain()
	return nil
}

func (c *Coordinator) giftsUpdate() FreeGiftsUpdate {
	return FreeGiftsUpdate{Quantity: c.state.Quantity, IsSubscription: c.state.IsSubscription}
}

// enqueue stamps payloads as events. Callers hold mu.
func (c *Coordinator) enqueue(ps ...Payload) {
	now := c.clock.Now()
	evts := make([]Event, 0, len(ps))
	for _, p := range ps {
		evts = append(evts, Event{
			ID:      uuid.NewString(),
			Version: SchemaVersion,
			Kind:    p.Kind(),
			At:      now,
			Payload: p,
		})
	}
	c.bus.enqueue(evts...)
}

func (c *Coordinator) giftSources() []GiftSource {
	names := make([]string, 0, len(c.gifts))
	for n := range c.gifts {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]GiftSource, 0, len(names))
	for _, n := range names {
		out = append(out, c.gifts[n])
	}
	return out
}
