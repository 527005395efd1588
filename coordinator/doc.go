// Package coordinator owns the purchase configuration of one product form
// and turns it into a single add-to-cart submission.
//
// Widgets (variant picker, quantity breaks, subscription selector, free
// gifts) report changes as RawEvents in whatever shape they historically
// used. The Coordinator normalizes them into one canonical Event, applies
// them to its PurchaseState, and re-broadcasts the canonical event through
// a FIFO bus that never re-enters itself: an event emitted while handlers
// are running is queued and delivered by the loop already draining.
//
// Submit runs at most one cart submission at a time. It disables the submit
// control, posts the configured lines, refreshes the cart sections and
// always returns to idle, whether the request succeeded, failed or timed out.
package coordinator
