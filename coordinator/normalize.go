package coordinator

import (
	"fmt"
	"math"
	"reflect"

	mapstructure "github.com/go-viper/mapstructure/v2"
)

// RawEvent is a change notification as a widget sends it: a legacy event
// name and a loosely typed detail object.
type RawEvent struct {
	Name   string
	Detail map[string]any
}

const (
	oneTimePlan = "onetime-single"
	echoSource  = "coordinator"
)

// Normalize maps a raw widget event onto its canonical payload. It is pure:
// the result depends only on raw.
//
// Numeric fields may arrive as strings. Events the coordinator emitted
// itself return ErrEchoEvent; names no widget sends return ErrUnknownEvent;
// details of the wrong shape return a *DecodeError.
func Normalize(raw RawEvent) (Payload, error) {
	switch raw.Name {
	case "variant-change", "variant:change", "variant-changed":
		return normalizeVariant(raw)
	case "quantity-update", "quantity-changed":
		return normalizeQuantity(raw)
	case "purchase-plan":
		return normalizePurchasePlan(raw)
	case "subscription-changed":
		return normalizeSubscription(raw)
	case "subscription-frequency", "frequency-changed":
		return normalizeFrequency(raw)
	case "qb:select", "bundle-selected":
		return normalizeBundle(raw)
	case "qb:price-updated":
		return normalizePrices(raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, raw.Name)
}

func decodeDetail(raw RawEvent, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       integralFloats,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw.Detail); err != nil {
		return &DecodeError{Event: raw.Name, Reason: "malformed detail", Err: err}
	}
	return nil
}

// integralFloats lets JSON numbers such as 5000.0 fill integer fields but
// rejects fractions, which would otherwise be truncated silently.
func integralFloats(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	var f float64
	switch v := data.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return data, nil
	}
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not a whole number", f)
	}
	return data, nil
}

func normalizeVariant(raw RawEvent) (Payload, error) {
	var d struct {
		Variant struct {
			ID int64 `mapstructure:"id"`
		} `mapstructure:"variant"`
		VariantID int64 `mapstructure:"variantId"`
		ID        int64 `mapstructure:"id"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	id := d.Variant.ID
	if id == 0 {
		id = d.VariantID
	}
	if id == 0 {
		id = d.ID
	}
	if id <= 0 {
		return nil, &DecodeError{Event: raw.Name, Reason: "missing variant id"}
	}
	return VariantChanged{VariantID: id}, nil
}

func normalizeQuantity(raw RawEvent) (Payload, error) {
	var d struct {
		Quantity int    `mapstructure:"quantity"`
		Source   string `mapstructure:"source"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	if d.Source == echoSource {
		return nil, ErrEchoEvent
	}
	switch {
	case d.Quantity < 0:
		return nil, &DecodeError{Event: raw.Name, Reason: fmt.Sprintf("negative quantity %d", d.Quantity)}
	case d.Quantity == 0:
		d.Quantity = 1
	}
	return QuantityChanged{Quantity: d.Quantity}, nil
}

func normalizePurchasePlan(raw RawEvent) (Payload, error) {
	var d struct {
		Value       string `mapstructure:"value"`
		SellingPlan string `mapstructure:"sellingPlan"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	if d.Value == "" || d.Value == oneTimePlan {
		return SubscriptionChanged{}, nil
	}
	plan := d.SellingPlan
	if plan == "" {
		plan = d.Value
	}
	return SubscriptionChanged{SellingPlanID: plan, IsSubscription: true}, nil
}

func normalizeSubscription(raw RawEvent) (Payload, error) {
	var d struct {
		SellingPlanID  *string `mapstructure:"sellingPlanId"`
		IsSubscription *bool   `mapstructure:"isSubscription"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	if d.SellingPlanID == nil || *d.SellingPlanID == "" || (d.IsSubscription != nil && !*d.IsSubscription) {
		return SubscriptionChanged{}, nil
	}
	return SubscriptionChanged{SellingPlanID: *d.SellingPlanID, IsSubscription: true}, nil
}

func normalizeFrequency(raw RawEvent) (Payload, error) {
	var d struct {
		Value         string `mapstructure:"value"`
		SellingPlanID string `mapstructure:"sellingPlanId"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	plan := d.SellingPlanID
	if plan == "" {
		plan = d.Value
	}
	if plan == "" {
		return nil, &DecodeError{Event: raw.Name, Reason: "missing selling plan"}
	}
	return FrequencyChanged{SellingPlanID: plan}, nil
}

type rawBundleItem struct {
	ID        int64 `mapstructure:"id"`
	VariantID int64 `mapstructure:"variantId"`
	Quantity  *int  `mapstructure:"quantity"`
}

func bundleItems(event string, in []rawBundleItem) ([]BundleItem, error) {
	out := make([]BundleItem, 0, len(in))
	for i, it := range in {
		id := it.ID
		if id == 0 {
			id = it.VariantID
		}
		if id <= 0 {
			return nil, &DecodeError{Event: event, Reason: fmt.Sprintf("item %d: missing variant id", i)}
		}
		qty := 1
		if it.Quantity != nil {
			qty = *it.Quantity
		}
		if qty < 1 {
			return nil, &DecodeError{Event: event, Reason: fmt.Sprintf("item %d: quantity %d", i, qty)}
		}
		out = append(out, BundleItem{VariantID: id, Quantity: qty})
	}
	return out, nil
}

func normalizeBundle(raw RawEvent) (Payload, error) {
	var d struct {
		Items []rawBundleItem `mapstructure:"items"`
		Qty   int             `mapstructure:"qty"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	items, err := bundleItems(raw.Name, d.Items)
	if err != nil {
		return nil, err
	}
	if d.Qty < 0 {
		return nil, &DecodeError{Event: raw.Name, Reason: fmt.Sprintf("negative qty %d", d.Qty)}
	}
	if d.Qty == 0 && len(items) > 0 {
		for _, it := range items {
			d.Qty += it.Quantity
		}
	}
	return BundleSelected{Items: items, Quantity: d.Qty}, nil
}

func normalizePrices(raw RawEvent) (Payload, error) {
	var d struct {
		Prices   Prices          `mapstructure:",squash"`
		Quantity int             `mapstructure:"quantity"`
		Items    []rawBundleItem `mapstructure:"items"`
	}
	if err := decodeDetail(raw, &d); err != nil {
		return nil, err
	}
	if d.Quantity < 0 {
		return nil, &DecodeError{Event: raw.Name, Reason: fmt.Sprintf("negative quantity %d", d.Quantity)}
	}
	items, err := bundleItems(raw.Name, d.Items)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		items = nil
	}
	return PricesUpdated{Prices: d.Prices, Quantity: d.Quantity, Items: items}, nil
}
