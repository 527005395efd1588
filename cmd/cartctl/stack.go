package main

import (
	"context"
	"fmt"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/codec"
	"github.com/unkn0wn-root/storecache/config"
	pr "github.com/unkn0wn-root/storecache/provider"
	"github.com/unkn0wn-root/storecache/provider/bigcache"
	"github.com/unkn0wn-root/storecache/provider/memory"
	"github.com/unkn0wn-root/storecache/provider/ristretto"
	"github.com/unkn0wn-root/storecache/provider/redis"
	"github.com/unkn0wn-root/storecache/storefront"
)

func newProvider(cfg config.CacheConfig) (pr.Provider, error) {
	switch cfg.Provider {
	case "memory":
		return memory.New(cfg.QuotaBytes), nil
	case "bigcache":
		return bigcache.New(bigcache.Config{
			LifeWindow:         cfg.StaleAfter,
			HardMaxCacheSizeMB: cfg.QuotaBytes >> 20,
		})
	case "ristretto":
		return ristretto.New(ristretto.Config{MaxCost: cfg.RistrettoMaxCost})
	case "redis":
		return redis.New(redis.Config{
			Client: goredis.NewClient(&goredis.Options{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}),
			CloseClient: true,
		})
	}
	return nil, fmt.Errorf("unknown cache provider %q", cfg.Provider)
}

func snapshotCodec(name string) (codec.Codec[storefront.Cart], error) {
	switch name {
	case "json":
		return codec.JSON[storefront.Cart]{}, nil
	case "cbor":
		return codec.NewCBOR[storefront.Cart](true)
	case "msgpack":
		return codec.Msgpack[storefront.Cart]{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// shared lets several caches use one store; it is closed with the last of them.
type shared struct {
	pr.Provider
	refs atomic.Int32
}

type sharedLister struct {
	*shared
	pr.Lister
}

func share(p pr.Provider, owners int) pr.Provider {
	s := &shared{Provider: p}
	s.refs.Store(int32(owners))
	if l, ok := p.(pr.Lister); ok {
		return sharedLister{shared: s, Lister: l}
	}
	return s
}

func (s *shared) Close(ctx context.Context) error {
	if s.refs.Add(-1) == 0 {
		return s.Provider.Close(ctx)
	}
	return nil
}

type caches struct {
	bodies    storecache.Cache[[]byte]
	snapshots storecache.Cache[storefront.Cart]
}

func newCaches(cfg config.CacheConfig, log storecache.Logger, hooks storecache.Hooks) (*caches, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := snapshotCodec(cfg.Codec)
	if err != nil {
		_ = p.Close(context.Background())
		return nil, err
	}
	return openCaches(p, sc, cfg, log, hooks)
}

// openCaches owns raw: on error it is closed before returning.
func openCaches(raw pr.Provider, sc codec.Codec[storefront.Cart], cfg config.CacheConfig, log storecache.Logger, hooks storecache.Hooks) (*caches, error) {
	p := share(raw, 2)

	bodies, err := storecache.New[[]byte](storecache.Options[[]byte]{
		Provider:      p,
		Codec:         codec.Limit[[]byte]{Inner: codec.Bytes{}, MaxDecode: int(cfg.MaxBodyBytes)},
		Namespace:     cfg.Namespace + ":http",
		Logger:        log,
		Hooks:         hooks,
		DefaultTTL:    cfg.DefaultTTL,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
		Disabled:      cfg.Disabled,
	})
	if err != nil {
		_ = raw.Close(context.Background())
		return nil, err
	}
	snapshots, err := storecache.New[storefront.Cart](storecache.Options[storefront.Cart]{
		Provider:      p,
		Codec:         sc,
		Namespace:     cfg.Namespace + ":snapshot",
		Logger:        log,
		Hooks:         hooks,
		DefaultTTL:    cfg.DefaultTTL,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: -1,
		Disabled:      cfg.Disabled,
	})
	if err != nil {
		// bodies only drops its share; the store itself must go too
		_ = bodies.Close(context.Background())
		_ = raw.Close(context.Background())
		return nil, err
	}
	return &caches{bodies: bodies, snapshots: snapshots}, nil
}

func (c *caches) Close(ctx context.Context) error {
	err1 := c.snapshots.Close(ctx)
	err2 := c.bodies.Close(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}
