package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/storefront"
)

// Submit adds the configured purchase to the cart. At most one submission
// runs at a time: a concurrent call returns ErrSubmitInProgress without
// touching the network. Whatever the outcome, the coordinator is idle and
// the submit control enabled again when Submit returns.
//
// Once the cart accepted the items, Submit succeeds and emits CartAdded even
// if refreshing the cart sections fails; that failure is only logged and the
// shopper sees no failure notice.
func (c *Coordinator) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Submitting {
		c.mu.Unlock()
		c.log.Debug("submit ignored: already submitting", nil)
		return ErrSubmitInProgress
	}
	c.state.Submitting = true
	snap := c.state.clone()
	sources := c.giftSources()
	c.mu.Unlock()

	c.control.SetEnabled(false)
	// re-enable while still Submitting so a following Submit cannot
	// disable the control before this one enables it
	defer func() {
		c.control.SetEnabled(true)
		c.mu.Lock()
		c.state.Submitting = false
		c.mu.Unlock()
	}()

	items, err := snap.items()
	if err != nil {
		c.failed(snap, err)
		return err
	}
	for _, src := range sources {
		items = append(items, src.UnlockedGifts(snap.Quantity, snap.IsSubscription)...)
	}

	lines, err := c.addItems(ctx, items)
	if err != nil {
		c.failed(snap, err)
		return fmt.Errorf("coordinator: add to cart: %w", err)
	}
	c.log.Info("added to cart", storecache.Fields{"variant": snap.VariantID, "lines": len(items)})

	c.refreshSections(ctx)

	c.mu.Lock()
	c.enqueue(CartAdded{Items: items, LineItems: lines})
	c.mu.Unlock()
	c.bus.drain()
	return nil
}

// addItems bounds the cart call by the submit timeout even if the CartAPI
// ignores its context.
func (c *Coordinator) addItems(ctx context.Context, items []storefront.Item) ([]storefront.LineItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	type result struct {
		lines []storefront.LineItem
		err   error
	}
	done := make(chan result, 1)
	go func() {
		lines, err := c.cart.AddItems(ctx, items)
		done <- result{lines, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrSubmitTimeout, r.err)
		}
		return r.lines, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrSubmitTimeout, c.submitTimeout)
		}
		return nil, ctx.Err()
	}
}

// refreshSections re-renders the cart UI. The cart already changed, so
// failures here are logged and otherwise ignored.
func (c *Coordinator) refreshSections(ctx context.Context) {
	if c.renderer == nil || len(c.sections) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	sections, err := c.cart.Sections(ctx, c.sections)
	if err != nil {
		c.log.Warn("section refresh failed", storecache.Fields{"sections": c.sections, "err": err})
		return
	}
	if err := c.renderer.Render(sections); err != nil {
		c.log.Warn("section render failed", storecache.Fields{"err": err})
	}
}

func (c *Coordinator) failed(snap PurchaseState, err error) {
	c.log.Error("add to cart failed", storecache.Fields{"variant": snap.VariantID, "err": err})
	if c.notifier != nil {
		c.notifier.Notify(c.failureMsg)
	}
	c.mu.Lock()
	c.enqueue(CartAddFailed{Error: err.Error()})
	c.mu.Unlock()
	c.bus.drain()
}
