package storecache

import (
	"context"
	"errors"
	"sync"
	"time"

	c "github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/internal/util"
	"github.com/unkn0wn-root/storecache/internal/wire"
	pr "github.com/unkn0wn-root/storecache/provider"
)

type cache[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	clock          Clock
	enabled        bool
	defaultTTL     time.Duration
	staleAfter     time.Duration
	sweepInterval  time.Duration
	computeSetCost SetCostFunc

	// background sweep
	ticker    *time.Ticker
	stopCh    chan struct{}
	closeWg   sync.WaitGroup
	closeOnce sync.Once
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, ErrNoProvider
	}
	if opts.Codec == nil {
		return nil, ErrNoCodec
	}

	c := &cache[V]{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		enabled:  !opts.Disabled,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.clock = coalesce[Clock](opts.Clock, SystemClock)
	c.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	c.staleAfter = coalesce[time.Duration](opts.StaleAfter, defaultStaleAfter)
	c.sweepInterval = coalesce[time.Duration](opts.SweepInterval, defaultSweep)

	if opts.ComputeSetCost != nil {
		c.computeSetCost = opts.ComputeSetCost
	} else {
		c.computeSetCost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}

	if c.enabled && c.sweepInterval > 0 {
		c.ticker = time.NewTicker(c.sweepInterval)
		c.stopCh = make(chan struct{})
		c.closeWg.Add(1)
		go c.sweepLoop()
	}
	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.stopCh != nil {
			close(c.stopCh)
			c.ticker.Stop()
			c.closeWg.Wait()
		}
	})
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if !c.enabled {
		return zero, false
	}
	k := util.StorageKey(c.ns, key)
	raw, ok, err := c.provider.Get(ctx, k)
	if err != nil {
		c.storeError("get", k, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	e, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, k, "corrupt")
		return zero, false
	}
	if e.Expired(c.clock.Now()) {
		c.selfHeal(ctx, k, "expired")
		return zero, false
	}
	v, err := c.codec.Decode(e.Payload)
	if err != nil {
		c.selfHeal(ctx, k, "value_decode")
		return zero, false
	}
	return v, true
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return &EncodeError{Key: key, Err: err}
	}
	raw, err := wire.Encode(payload, c.clock.Now(), ttl)
	if err != nil {
		return &EncodeError{Key: key, Err: err}
	}

	k := util.StorageKey(c.ns, key)
	ok, err := c.provider.Set(ctx, k, raw, c.computeSetCost(k, raw), ttl)
	switch {
	case errors.Is(err, pr.ErrQuotaExceeded), err == nil && !ok:
		// store is full: make room for later writes, drop this one
		c.log.Warn("write skipped (store full); sweeping stale entries", Fields{"key": key, "err": err})
		c.hooks.WriteSkipped(k, err)
		c.Sweep(ctx)
	case err != nil:
		c.storeError("set", k, err)
	}
	return nil
}

func (c *cache[V]) Delete(ctx context.Context, key string) {
	if !c.enabled {
		return
	}
	k := util.StorageKey(c.ns, key)
	if err := c.provider.Del(ctx, k); err != nil {
		c.storeError("del", k, err)
	}
}

func (c *cache[V]) Sweep(ctx context.Context) int {
	if !c.enabled {
		return 0
	}
	lister, ok := c.provider.(pr.Lister)
	if !ok {
		// store expires entries natively
		c.log.Debug("sweep skipped: provider cannot enumerate keys", nil)
		return 0
	}
	keys, err := lister.Keys(ctx, util.Prefix(c.ns))
	if err != nil {
		c.storeError("keys", util.Prefix(c.ns), err)
		return 0
	}

	now := c.clock.Now()
	removed := 0
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		raw, ok, err := c.provider.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		if storedAt, err := wire.StoredAt(raw); err == nil && now.Sub(storedAt) <= c.staleAfter {
			continue
		}
		if err := c.provider.Del(ctx, k); err != nil {
			c.storeError("del", k, err)
			continue
		}
		removed++
	}

	c.hooks.Swept(len(keys), removed)
	if removed > 0 {
		c.log.Debug("sweep removed stale entries", Fields{"scanned": len(keys), "removed": removed})
	}
	return removed
}

func (c *cache[V]) selfHeal(ctx context.Context, storageKey, reason string) {
	if err := c.provider.Del(ctx, storageKey); err != nil {
		c.storeError("del", storageKey, err)
	}
	c.hooks.SelfHeal(storageKey, reason)
	c.log.Debug("dropped unusable entry", Fields{"key": storageKey, "reason": reason})
}

func (c *cache[V]) storeError(op, storageKey string, err error) {
	c.hooks.StoreError(op, err)
	c.log.Warn("store "+op+" failed; degraded to miss", Fields{"key": storageKey, "err": err})
}

func (c *cache[V]) sweepLoop() {
	defer c.closeWg.Done()
	for {
		select {
		case <-c.ticker.C:
			c.Sweep(context.Background())
		case <-c.stopCh:
			return
		}
	}
}
