package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/storecache/storefront"
)

type fakeCart struct {
	mu       sync.Mutex
	calls    [][]storefront.Item
	err      error
	block    chan struct{} // AddItems waits on it when set
	ignore   bool          // ignore ctx while blocked
	sections map[string]string
	secErr   error
	secCalls int
}

func (f *fakeCart) AddItems(ctx context.Context, items []storefront.Item) ([]storefront.LineItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]storefront.Item(nil), items...))
	block, ignore, err := f.block, f.ignore, f.err
	f.mu.Unlock()

	if block != nil {
		if ignore {
			<-block
		} else {
			select {
			case <-block:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, err
	}
	lines := make([]storefront.LineItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, storefront.LineItem{VariantID: it.VariantID, Quantity: it.Quantity})
	}
	return lines, nil
}

func (f *fakeCart) Sections(_ context.Context, names []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secCalls++
	if f.secErr != nil {
		return nil, f.secErr
	}
	return f.sections, nil
}

func (f *fakeCart) Calls() [][]storefront.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]storefront.Item(nil), f.calls...)
}

type fakeControl struct {
	mu      sync.Mutex
	history []bool
}

func (f *fakeControl) SetEnabled(v bool) {
	f.mu.Lock()
	f.history = append(f.history, v)
	f.mu.Unlock()
}

func (f *fakeControl) History() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.history...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Notify(msg string) {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
}

type fakeRenderer struct {
	got map[string]string
	err error
}

func (f *fakeRenderer) Render(s map[string]string) error {
	f.got = s
	return f.err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) last(k Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == k {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type harness struct {
	c        *Coordinator
	cart     *fakeCart
	control  *fakeControl
	notifier *fakeNotifier
	renderer *fakeRenderer
	rec      *recorder
}

func newHarness(t *testing.T, initial PurchaseState, mod func(*Options)) *harness {
	t.Helper()
	h := &harness{
		cart:     &fakeCart{sections: map[string]string{"cart-drawer": "<drawer/>"}},
		control:  &fakeControl{},
		notifier: &fakeNotifier{},
		renderer: &fakeRenderer{},
		rec:      &recorder{},
	}
	opts := Options{
		Cart:     h.cart,
		Initial:  initial,
		Control:  h.control,
		Notifier: h.notifier,
		Renderer: h.renderer,
	}
	if mod != nil {
		mod(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	c.Subscribe(KindAny, h.rec.handle)
	h.c = c
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Cart: &fakeCart{}, Initial: PurchaseState{BundleItems: []BundleItem{{VariantID: 1, Quantity: 0}}}})
	require.Error(t, err)

	_, err = New(Options{Cart: &fakeCart{}, SubmitTimeout: -time.Second})
	require.Error(t, err)

	c, err := New(Options{Cart: &fakeCart{}, Initial: PurchaseState{VariantID: 5, SellingPlanID: "sub_1", Submitting: true}})
	require.NoError(t, err)
	st := c.State()
	assert.Equal(t, 1, st.Quantity)
	assert.True(t, st.IsSubscription)
	assert.False(t, st.Submitting)
}

func TestSubmitSingleItem(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 2}, nil)

	require.NoError(t, h.c.Submit(context.Background()))

	assert.Equal(t, [][]storefront.Item{{{VariantID: 111, Quantity: 2}}}, h.cart.Calls())
	assert.Equal(t, []bool{false, true}, h.control.History())
	assert.Equal(t, map[string]string{"cart-drawer": "<drawer/>"}, h.renderer.got)
	assert.False(t, h.c.State().Submitting)

	evt, ok := h.rec.last(KindCartAdded)
	require.True(t, ok)
	added := evt.Payload.(CartAdded)
	assert.Equal(t, []storefront.Item{{VariantID: 111, Quantity: 2}}, added.Items)
	assert.Len(t, added.LineItems, 1)
	assert.Equal(t, SchemaVersion, evt.Version)
	assert.NotEmpty(t, evt.ID)
}

func TestBundleTakesPrecedence(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 999, Quantity: 5}, nil)

	require.NoError(t, h.c.SelectBundle([]BundleItem{{VariantID: 111, Quantity: 1}, {VariantID: 222, Quantity: 2}}, 3))
	require.NoError(t, h.c.SetSubscription("sub_abc"))
	require.NoError(t, h.c.Submit(context.Background()))

	calls := h.cart.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []storefront.Item{
		{VariantID: 111, Quantity: 1, SellingPlan: "sub_abc"},
		{VariantID: 222, Quantity: 2, SellingPlan: "sub_abc"},
	}, calls[0])
}

func TestQuantityLastWriteWinsButBundleDrivesLines(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 1}, nil)

	require.NoError(t, h.c.SelectBundle([]BundleItem{{VariantID: 111, Quantity: 3}}, 3))
	require.NoError(t, h.c.Dispatch(RawEvent{Name: "quantity-update", Detail: map[string]any{"quantity": 5}}))
	assert.Equal(t, 5, h.c.State().Quantity)

	require.NoError(t, h.c.Submit(context.Background()))
	assert.Equal(t, []storefront.Item{{VariantID: 111, Quantity: 3}}, h.cart.Calls()[0])

	require.NoError(t, h.c.ClearBundle())
	require.NoError(t, h.c.Submit(context.Background()))
	assert.Equal(t, []storefront.Item{{VariantID: 1, Quantity: 5}}, h.cart.Calls()[1])
}

func TestSingleSubmissionInFlight(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 1}, nil)
	h.cart.block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- h.c.Submit(context.Background()) }()
	waitFor(t, func() bool { return len(h.cart.Calls()) == 1 })
	assert.True(t, h.c.State().Submitting)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, h.c.Submit(context.Background()), ErrSubmitInProgress)
	}
	assert.Len(t, h.cart.Calls(), 1)

	close(h.cart.block)
	require.NoError(t, <-done)
	assert.False(t, h.c.State().Submitting)
	assert.Equal(t, []bool{false, true}, h.control.History())

	require.NoError(t, h.c.Submit(context.Background()))
	assert.Len(t, h.cart.Calls(), 2)
}

// pausingControl blocks inside SetEnabled(true) until released.
type pausingControl struct {
	fakeControl
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingControl) SetEnabled(v bool) {
	if v {
		p.once.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	p.fakeControl.SetEnabled(v)
}

func TestControlReenabledBeforeNextSubmitCanStart(t *testing.T) {
	ctl := &pausingControl{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 1}, func(o *Options) { o.Control = ctl })

	done := make(chan error, 1)
	go func() { done <- h.c.Submit(context.Background()) }()
	<-ctl.entered

	// first submission is re-enabling the control: it still owns the lock
	assert.True(t, h.c.State().Submitting)
	assert.ErrorIs(t, h.c.Submit(context.Background()), ErrSubmitInProgress)
	assert.Len(t, h.cart.Calls(), 1)

	close(ctl.release)
	require.NoError(t, <-done)
	assert.False(t, h.c.State().Submitting)

	require.NoError(t, h.c.Submit(context.Background()))
	assert.Equal(t, []bool{false, true, false, true}, ctl.History())
}

func TestFailureCleansUpAndNotifies(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 1}, nil)
	h.cart.err = &storefront.StatusError{Op: "add items", StatusCode: 422}

	err := h.c.Submit(context.Background())
	var se *storefront.StatusError
	require.ErrorAs(t, err, &se)

	assert.False(t, h.c.State().Submitting)
	assert.Equal(t, []bool{false, true}, h.control.History())
	assert.Equal(t, []string{defaultFailureMessage}, h.notifier.msgs)
	assert.Equal(t, 0, h.cart.secCalls)

	evt, ok := h.rec.last(KindCartAddFailed)
	require.True(t, ok)
	assert.Contains(t, evt.Payload.(CartAddFailed).Error, "422")
	_, ok = h.rec.last(KindCartAdded)
	assert.False(t, ok)
}

func TestInvalidStateNeverReachesNetwork(t *testing.T) {
	h := newHarness(t, PurchaseState{}, func(o *Options) { o.FailureMessage = "Pick a size" })

	err := h.c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, h.cart.Calls())
	assert.Equal(t, []string{"Pick a size"}, h.notifier.msgs)
	assert.Equal(t, []bool{false, true}, h.control.History())
	assert.False(t, h.c.State().Submitting)
}

func TestSubmitTimeoutReturnsToIdle(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 1}, func(o *Options) {
		o.SubmitTimeout = 20 * time.Millisecond
	})
	h.cart.block = make(chan struct{})
	h.cart.ignore = true
	defer close(h.cart.block)

	start := time.Now()
	err := h.c.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, h.c.State().Submitting)
	assert.Len(t, h.notifier.msgs, 1)
}

func TestSectionRefreshFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 1}, nil)
	h.cart.secErr = errors.New("sections unavailable")

	require.NoError(t, h.c.Submit(context.Background()))
	assert.Nil(t, h.renderer.got)
	assert.Empty(t, h.notifier.msgs)
	_, ok := h.rec.last(KindCartAdded)
	assert.True(t, ok)
}

func TestGiftsAppendedInNameOrder(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 111, Quantity: 3, SellingPlanID: "sub_1"}, nil)

	var gotQty int
	var gotSub bool
	h.c.RegisterGiftSource("b-subscription", GiftSourceFunc(func(q int, sub bool) []storefront.Item {
		gotQty, gotSub = q, sub
		return []storefront.Item{{VariantID: 900, Quantity: 1}}
	}))
	h.c.RegisterGiftSource("a-quantity", GiftSourceFunc(func(q int, _ bool) []storefront.Item {
		if q >= 3 {
			return []storefront.Item{{VariantID: 800, Quantity: 1}}
		}
		return nil
	}))
	h.c.RegisterGiftSource("c-removed", GiftSourceFunc(func(int, bool) []storefront.Item {
		return []storefront.Item{{VariantID: 700, Quantity: 1}}
	}))
	h.c.UnregisterGiftSource("c-removed")

	require.NoError(t, h.c.Submit(context.Background()))
	assert.Equal(t, []storefront.Item{
		{VariantID: 111, Quantity: 3, SellingPlan: "sub_1"},
		{VariantID: 800, Quantity: 1},
		{VariantID: 900, Quantity: 1},
	}, h.cart.Calls()[0])
	assert.Equal(t, 3, gotQty)
	assert.True(t, gotSub)
}

func TestEventsAreFIFOAndNonReentrant(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 1}, nil)

	var mu sync.Mutex
	var trace []string
	inHandler := false
	add := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}

	h.c.Subscribe(KindVariantChanged, func(e Event) {
		inHandler = true
		add("variant:start")
		require.NoError(t, h.c.SetQuantity(4))
		add("variant:end")
		inHandler = false
	})
	h.c.Subscribe(KindQuantityChanged, func(e Event) {
		if inHandler {
			add("quantity:reentered")
		}
		add("quantity")
	})
	h.c.Subscribe(KindFreeGiftsUpdate, func(e Event) {
		add("gifts")
		assert.Equal(t, FreeGiftsUpdate{Quantity: 4}, e.Payload)
	})

	require.NoError(t, h.c.SelectVariant(222))
	assert.Equal(t, []string{"variant:start", "variant:end", "quantity", "gifts"}, trace)
	assert.Equal(t, []Kind{KindVariantChanged, KindQuantityChanged, KindFreeGiftsUpdate}, h.rec.kinds())
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	h := newHarness(t, PurchaseState{}, nil)
	h.c.Subscribe(KindVariantChanged, func(Event) { panic("widget bug") })
	var got int64
	h.c.Subscribe(KindVariantChanged, func(e Event) { got = e.Payload.(VariantChanged).VariantID })

	require.NoError(t, h.c.Dispatch(RawEvent{Name: "variant:change", Detail: map[string]any{"variant": map[string]any{"id": "42"}}}))
	assert.Equal(t, int64(42), got)
	assert.Equal(t, int64(42), h.c.State().VariantID)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, PurchaseState{}, nil)
	n := 0
	id := h.c.Subscribe(KindVariantChanged, func(Event) { n++ })
	require.NoError(t, h.c.SelectVariant(1))
	h.c.Unsubscribe(id)
	require.NoError(t, h.c.SelectVariant(2))
	assert.Equal(t, 1, n)
}

func TestFrequencyRequiresActiveSubscription(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 1}, nil)

	require.NoError(t, h.c.SetFrequency("sub_30"))
	assert.Equal(t, "", h.c.State().SellingPlanID)
	assert.Empty(t, h.rec.kinds())

	require.NoError(t, h.c.Dispatch(RawEvent{Name: "purchase-plan", Detail: map[string]any{"value": "subscribe", "sellingPlan": "sub_30"}}))
	require.NoError(t, h.c.Dispatch(RawEvent{Name: "subscription-frequency", Detail: map[string]any{"value": "sub_60"}}))
	st := h.c.State()
	assert.Equal(t, "sub_60", st.SellingPlanID)
	assert.True(t, st.IsSubscription)

	require.NoError(t, h.c.Dispatch(RawEvent{Name: "purchase-plan", Detail: map[string]any{"value": "onetime-single"}}))
	st = h.c.State()
	assert.Equal(t, "", st.SellingPlanID)
	assert.False(t, st.IsSubscription)

	assert.Equal(t, []Kind{
		KindSubscriptionChanged, KindFreeGiftsUpdate,
		KindFrequencyChanged,
		KindSubscriptionChanged, KindFreeGiftsUpdate,
	}, h.rec.kinds())
}

func TestDispatchErrors(t *testing.T) {
	h := newHarness(t, PurchaseState{}, nil)
	assert.ErrorIs(t, h.c.Dispatch(RawEvent{Name: "nope"}), ErrUnknownEvent)
	assert.NoError(t, h.c.Dispatch(RawEvent{Name: "quantity-update", Detail: map[string]any{"quantity": 9, "source": "coordinator"}}))
	assert.Equal(t, 1, h.c.State().Quantity)
	assert.Empty(t, h.rec.kinds())
}

func TestPricesUpdate(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 1}, nil)
	require.NoError(t, h.c.Dispatch(RawEvent{Name: "qb:price-updated", Detail: map[string]any{
		"price": 2000, "comparePrice": 2500, "quantity": 2,
		"items": []any{map[string]any{"id": 5, "quantity": 2}},
	}}))
	st := h.c.State()
	assert.Equal(t, Prices{Base: 2000, Compare: 2500}, st.Prices)
	assert.Equal(t, 2, st.Quantity)
	assert.Equal(t, []BundleItem{{VariantID: 5, Quantity: 2}}, st.BundleItems)

	require.NoError(t, h.c.UpdatePrices(Prices{Base: 1}, 0))
	assert.Equal(t, 2, h.c.State().Quantity)
}

func TestStartEmitsReadyOnce(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 7, Quantity: 2}, nil)
	h.c.Start()
	h.c.Start()
	assert.Equal(t, []Kind{KindReady}, h.rec.kinds())
	evt, _ := h.rec.last(KindReady)
	assert.Equal(t, int64(7), evt.Payload.(Ready).State.VariantID)
}

func TestCloseDetachesAndRejects(t *testing.T) {
	h := newHarness(t, PurchaseState{VariantID: 7}, nil)
	h.c.Close()
	assert.ErrorIs(t, h.c.Submit(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.c.SelectVariant(8), ErrClosed)
	assert.Empty(t, h.cart.Calls())
	assert.Empty(t, h.rec.kinds())
}

func TestStateIsACopy(t *testing.T) {
	h := newHarness(t, PurchaseState{}, nil)
	require.NoError(t, h.c.SelectBundle([]BundleItem{{VariantID: 1, Quantity: 1}}, 0))
	st := h.c.State()
	st.BundleItems[0].VariantID = 99
	assert.Equal(t, int64(1), h.c.State().BundleItems[0].VariantID)
}

func TestEventJSONRoundTrip(t *testing.T) {
	in := Event{
		ID:      "e1",
		Version: SchemaVersion,
		Kind:    KindBundleSelected,
		At:      time.UnixMilli(1_700_000_000_000).UTC(),
		Payload: BundleSelected{Items: []BundleItem{{VariantID: 1, Quantity: 2}}, Quantity: 2},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Event
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)

	bad := []byte(`{"id":"e2","version":2,"kind":"cart-added","payload":{}}`)
	assert.ErrorIs(t, json.Unmarshal(bad, &out), ErrSchemaVersion)

	mismatch := []byte(`{"id":"e3","version":1,"kind":"teleported","payload":{}}`)
	assert.ErrorIs(t, json.Unmarshal(mismatch, &out), ErrUnknownEvent)
}

// End to end against an HTTP storefront: one-time purchase, then the same
// purchase as a subscription.
func TestSubmitThroughStorefrontClient(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var sectionQueries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/cart/add.js":
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			bodies = append(bodies, string(b))
			mu.Unlock()
			assert.Equal(t, "true", r.Header.Get(storefront.HeaderSubmit))
			_, _ = io.WriteString(w, `{"items":[{"id":111,"variant_id":111,"quantity":2}]}`)
		case r.URL.Path == "/" && r.URL.Query().Get("sections") != "":
			mu.Lock()
			sectionQueries = append(sectionQueries, r.URL.Query().Get("sections"))
			mu.Unlock()
			_, _ = io.WriteString(w, `{"cart-drawer":"<d/>","cart-icon-bubble":"<b/>"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client, err := storefront.New(storefront.Options{BaseURL: srv.URL})
	require.NoError(t, err)
	renderer := &fakeRenderer{}
	c, err := New(Options{Cart: client, Renderer: renderer})
	require.NoError(t, err)

	require.NoError(t, c.Dispatch(RawEvent{Name: "variant-change", Detail: map[string]any{"variant": map[string]any{"id": 111}}}))
	require.NoError(t, c.Dispatch(RawEvent{Name: "quantity-update", Detail: map[string]any{"quantity": 2}}))
	require.NoError(t, c.Submit(context.Background()))

	require.NoError(t, c.Dispatch(RawEvent{Name: "subscription-changed", Detail: map[string]any{"sellingPlanId": "sub_abc"}}))
	require.NoError(t, c.Submit(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 2)
	assert.JSONEq(t, `{"items":[{"id":111,"quantity":2}]}`, bodies[0])
	assert.JSONEq(t, `{"items":[{"id":111,"quantity":2,"selling_plan":"sub_abc"}]}`, bodies[1])
	assert.Equal(t, []string{"cart-drawer,cart-icon-bubble", "cart-drawer,cart-icon-bubble"}, sectionQueries)
	assert.Equal(t, map[string]string{"cart-drawer": "<d/>", "cart-icon-bubble": "<b/>"}, renderer.got)
}
