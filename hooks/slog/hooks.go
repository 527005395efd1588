// Package sloghooks logs cache hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/storecache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	SweepEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	sweepCtr    atomic.Uint64
}

var _ storecache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("storecache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) WriteSkipped(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("storecache.write_skipped",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) StoreError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("storecache.store_error",
		"op", op,
		"err", err)
}

// Swept logs only passes that removed something.
func (h *Hooks) Swept(scanned, removed int) {
	if h.l == nil || removed == 0 || !sample(h.opts.SweepEvery, &h.sweepCtr) {
		return
	}
	h.l.Info("storecache.swept",
		"scanned", scanned,
		"removed", removed)
}
