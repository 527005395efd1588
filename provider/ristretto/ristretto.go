// Package ristretto adapts dgraph-io/ristretto. Ristretto cannot enumerate its
// keys, so it does not implement provider.Lister: entries are bounded by the
// per-entry TTL passed on Set and by cost-based admission instead of sweeps.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"time"

	rc "github.com/dgraph-io/ristretto"

	pr "github.com/unkn0wn-root/storecache/provider"
)

type Provider struct {
	c       *rc.Cache
	maxCost int64
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	MaxCost     int64 // required; storecache reports envelope bytes as cost
	NumCounters int64 // 0 => 10 * (MaxCost / 1KiB), at least 1000
	BufferItems int64 // 0 => 64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.MaxCost <= 0 {
		return nil, errors.New("ristretto: MaxCost must be positive")
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = max(10*(cfg.MaxCost>>10), 1000)
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Provider{c: c, maxCost: cfg.MaxCost}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	if !ok {
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

// Set fails with ErrQuotaExceeded when the entry alone outweighs the cache.
// Otherwise ok=false means ristretto dropped the write (admission policy or
// full buffers), which storecache also treats as store pressure.
func (p *Provider) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if cost <= 0 {
		cost = int64(len(value))
	}
	if cost > p.maxCost {
		return false, fmt.Errorf("ristretto: entry cost %d > max %d: %w", cost, p.maxCost, pr.ErrQuotaExceeded)
	}
	v := make([]byte, len(value))
	copy(v, value)
	return p.c.SetWithTTL(key, v, cost, ttl), nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (p *Provider) Wait() { p.c.Wait() }

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto counters (nil unless Config.Metrics).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
