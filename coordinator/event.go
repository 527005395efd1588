package coordinator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/unkn0wn-root/storecache/storefront"
)

// SchemaVersion is stamped on every Event. Consumers reject other versions.
const SchemaVersion = 1

type Kind string

const (
	KindVariantChanged      Kind = "variant-changed"
	KindQuantityChanged     Kind = "quantity-changed"
	KindSubscriptionChanged Kind = "subscription-changed"
	KindFrequencyChanged    Kind = "frequency-changed"
	KindBundleSelected      Kind = "bundle-selected"
	KindPricesUpdated       Kind = "prices-updated"
	KindFreeGiftsUpdate     Kind = "free-gifts-update"
	KindCartAdded           Kind = "cart-added"
	KindCartAddFailed       Kind = "cart-add-failed"
	KindReady               Kind = "coordinator-ready"

	// KindAny subscribes to every kind.
	KindAny Kind = "*"
)

// Event is a canonical coordinator event.
type Event struct {
	ID      string    `json:"id"`
	Version int       `json:"version"`
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Payload Payload   `json:"payload"`
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	Kind() Kind
	payload()
}

type VariantChanged struct {
	VariantID int64 `json:"variantId"`
}

type QuantityChanged struct {
	Quantity int `json:"quantity"`
}

// SubscriptionChanged with an empty SellingPlanID switches to one-time purchase.
type SubscriptionChanged struct {
	SellingPlanID  string `json:"sellingPlanId,omitempty"`
	IsSubscription bool   `json:"isSubscription"`
}

type FrequencyChanged struct {
	SellingPlanID string `json:"sellingPlanId"`
}

// BundleSelected with no Items clears the bundle. Quantity 0 leaves the
// quantity unchanged.
type BundleSelected struct {
	Items    []BundleItem `json:"items"`
	Quantity int          `json:"quantity"`
}

type PricesUpdated struct {
	Prices   Prices       `json:"prices"`
	Quantity int          `json:"quantity,omitempty"`
	Items    []BundleItem `json:"items,omitempty"`
}

// FreeGiftsUpdate tells gift widgets what they may unlock.
type FreeGiftsUpdate struct {
	Quantity       int  `json:"quantity"`
	IsSubscription bool `json:"isSubscription"`
}

type CartAdded struct {
	Items     []storefront.Item     `json:"items"`
	LineItems []storefront.LineItem `json:"lineItems,omitempty"`
}

type CartAddFailed struct {
	Error string `json:"error"`
}

type Ready struct {
	State PurchaseState `json:"state"`
}

func (VariantChanged) Kind() Kind      { return KindVariantChanged }
func (QuantityChanged) Kind() Kind     { return KindQuantityChanged }
func (SubscriptionChanged) Kind() Kind { return KindSubscriptionChanged }
func (FrequencyChanged) Kind() Kind    { return KindFrequencyChanged }
func (BundleSelected) Kind() Kind      { return KindBundleSelected }
func (PricesUpdated) Kind() Kind       { return KindPricesUpdated }
func (FreeGiftsUpdate) Kind() Kind     { return KindFreeGiftsUpdate }
func (CartAdded) Kind() Kind           { return KindCartAdded }
func (CartAddFailed) Kind() Kind       { return KindCartAddFailed }
func (Ready) Kind() Kind               { return KindReady }

func (VariantChanged) payload()      {}
func (QuantityChanged) payload()     {}
func (SubscriptionChanged) payload() {}
func (FrequencyChanged) payload()    {}
func (BundleSelected) payload()      {}
func (PricesUpdated) payload()       {}
func (FreeGiftsUpdate) payload()     {}
func (CartAdded) payload()           {}
func (CartAddFailed) payload()       {}
func (Ready) payload()               {}

// Validate checks the version and that Kind agrees with the payload.
func (e Event) Validate() error {
	if e.Version != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, e.Version)
	}
	if e.Payload == nil {
		return fmt.Errorf("coordinator: event %s has no payload", e.ID)
	}
	if e.Payload.Kind() != e.Kind {
		return fmt.Errorf("coordinator: event kind %q does not match payload %q", e.Kind, e.Payload.Kind())
	}
	return nil
}

// UnmarshalJSON decodes the payload by kind and validates the result.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      string          `json:"id"`
		Version int             `json:"version"`
		Kind    Kind            `json:"kind"`
		At      time.Time       `json:"at"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Version != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, raw.Version)
	}
	p, err := newPayload(raw.Kind)
	if err != nil {
		return err
	}
	if len(raw.Payload) > 0 && string(raw.Payload) != "null" {
		if err := json.Unmarshal(raw.Payload, p); err != nil {
			return fmt.Errorf("coordinator: decode %s payload: %w", raw.Kind, err)
		}
	}
	*e = Event{ID: raw.ID, Version: raw.Version, Kind: raw.Kind, At: raw.At, Payload: deref(p)}
	return e.Validate()
}

func newPayload(k Kind) (any, error) {
	switch k {
	case KindVariantChanged:
		return &VariantChanged{}, nil
	case KindQuantityChanged:
		return &QuantityChanged{}, nil
	case KindSubscriptionChanged:
		return &SubscriptionChanged{}, nil
	case KindFrequencyChanged:
		return &FrequencyChanged{}, nil
	case KindBundleSelected:
		return &BundleSelected{}, nil
	case KindPricesUpdated:
		return &PricesUpdated{}, nil
	case KindFreeGiftsUpdate:
		return &FreeGiftsUpdate{}, nil
	case KindCartAdded:
		return &CartAdded{}, nil
	case KindCartAddFailed:
		return &CartAddFailed{}, nil
	case KindReady:
		return &Ready{}, nil
	}
	return nil, fmt.Errorf("%w: kind %q", ErrUnknownEvent, k)
}

func deref(p any) Payload {
	switch v := p.(type) {
	case *VariantChanged:
		return *v
	case *QuantityChanged:
		return *v
	case *SubscriptionChanged:
		return *v
	case *FrequencyChanged:
		return *v
	case *BundleSelected:
		return *v
	case *PricesUpdated:
		return *v
	case *FreeGiftsUpdate:
		return *v
	case *CartAdded:
		return *v
	case *CartAddFailed:
		return *v
	case *Ready:
		return *v
	}
	return nil
}
