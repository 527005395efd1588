// Package memory is an in-process provider with a byte quota, modelled on
// browser session storage: writes that do not fit fail with ErrQuotaExceeded
// instead of evicting, and entries never expire on their own.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/storecache/provider"
)

// DefaultQuota matches the usual 5 MB session-storage budget.
const DefaultQuota = 5 << 20

type Provider struct {
	mu    sync.RWMutex
	m     map[string][]byte
	used  int
	quota int
}

var (
	_ pr.Provider = (*Provider)(nil)
	_ pr.Lister   = (*Provider)(nil)
)

// New creates a store holding at most quota bytes of keys+values.
// quota <= 0 => DefaultQuota.
func New(quota int) *Provider {
	if quota <= 0 {
		quota = DefaultQuota
	}
	return &Provider{m: make(map[string][]byte), quota: quota}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	v, ok := p.m[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return v, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := p.used + len(key) + len(value)
	if old, ok := p.m[key]; ok {
		used -= len(key) + len(old)
	}
	if used > p.quota {
		return false, pr.ErrQuotaExceeded
	}
	v := make([]byte, len(value))
	copy(v, value)
	p.m[key] = v
	p.used = used
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	if old, ok := p.m[key]; ok {
		p.used -= len(key) + len(old)
		delete(p.m, key)
	}
	p.mu.Unlock()
	return nil
}

func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

// Used returns the bytes currently accounted against the quota.
func (p *Provider) Used() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.used
}

func (p *Provider) Close(context.Context) error { return nil }
