package coordinator

import (
	"context"

	"github.com/unkn0wn-root/storecache/storefront"
)

// CartAPI is the part of the storefront the coordinator submits to.
// *storefront.Client implements it.
type CartAPI interface {
	AddItems(ctx context.Context, items []storefront.Item) ([]storefront.LineItem, error)
	Sections(ctx context.Context, names []string) (map[string]string, error)
}

var _ CartAPI = (*storefront.Client)(nil)

// SubmitControl is the add-to-cart button (or whatever stands in for it).
type SubmitControl interface {
	SetEnabled(enabled bool)
}

// Notifier shows a message to the shopper.
type Notifier interface {
	Notify(msg string)
}

// Renderer replaces cart UI fragments with freshly rendered sections.
type Renderer interface {
	Render(sections map[string]string) error
}

// Sink receives every canonical event after local subscribers ran.
type Sink interface {
	Publish(evt Event) error
}

// GiftSource contributes free gift lines unlocked by the current purchase.
type GiftSource interface {
	UnlockedGifts(quantity int, isSubscription bool) []storefront.Item
}

type GiftSourceFunc func(quantity int, isSubscription bool) []storefront.Item

func (f GiftSourceFunc) UnlockedGifts(quantity int, isSubscription bool) []storefront.Item {
	return f(quantity, isSubscription)
}

type nopControl struct{}

func (nopControl) SetEnabled(bool) {}
