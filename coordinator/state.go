package coordinator

import "github.com/unkn0wn-root/storecache/storefront"

// BundleItem is one line of a quantity-break bundle.
type BundleItem struct {
	VariantID int64 `json:"id" mapstructure:"id" validate:"gt=0"`
	Quantity  int   `json:"quantity" mapstructure:"quantity" validate:"gte=1"`
}

// Prices are informational amounts in minor currency units.
type Prices struct {
	Base    int64 `json:"base" mapstructure:"price"`
	Compare int64 `json:"compare" mapstructure:"comparePrice"`
	Final   int64 `json:"final" mapstructure:"finalPrice"`
}

// PurchaseState is the configuration that Submit turns into cart lines.
type PurchaseState struct {
	VariantID      int64        `json:"variantId" validate:"gte=0"`
	Quantity       int          `json:"quantity" validate:"gte=0"`
	SellingPlanID  string       `json:"sellingPlanId,omitempty"`
	IsSubscription bool         `json:"isSubscription"`
	BundleItems    []BundleItem `json:"bundleItems,omitempty" validate:"dive"`
	Prices         Prices       `json:"prices"`
	Submitting     bool         `json:"submitting"`
}

func (s PurchaseState) clone() PurchaseState {
	out := s
	if s.BundleItems != nil {
		out.BundleItems = append([]BundleItem(nil), s.BundleItems...)
	}
	return out
}

func (s *PurchaseState) setPlan(plan string) {
	s.SellingPlanID = plan
	s.IsSubscription = plan != ""
}

// items builds the cart lines for s. A non-empty bundle replaces the single
// variant line; the selling plan applies to every line.
func (s PurchaseState) items() ([]storefront.Item, error) {
	if len(s.BundleItems) > 0 {
		out := make([]storefront.Item, 0, len(s.BundleItems))
		for _, b := range s.BundleItems {
			if b.VariantID <= 0 || b.Quantity < 1 {
				return nil, invalidState("bundle line %d x %d", b.VariantID, b.Quantity)
			}
			out = append(out, storefront.Item{VariantID: b.VariantID, Quantity: b.Quantity, SellingPlan: s.SellingPlanID})
		}
		return out, nil
	}
	if s.VariantID <= 0 {
		return nil, invalidState("no variant selected")
	}
	if s.Quantity < 1 {
		return nil, invalidState("quantity %d", s.Quantity)
	}
	return []storefront.Item{{VariantID: s.VariantID, Quantity: s.Quantity, SellingPlan: s.SellingPlanID}}, nil
}
