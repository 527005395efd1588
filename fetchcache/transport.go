// Package fetchcache serves registered storefront GET endpoints from a
// storecache.Cache and falls back to the network on a miss.
//
// Requests are intercepted by installing the Transport as an http.Client's
// RoundTripper; nothing global is patched. Only routes registered on the
// Transport are cached, everything else passes through untouched.
package fetchcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/storecache"
	"golang.org/x/sync/singleflight"
)

const (
	// HeaderCacheStatus is set to HIT or MISS on routed responses.
	HeaderCacheStatus = "X-Cache-Status"

	defaultMaxBodyBytes = 1 << 20
)

var ErrNoCache = errors.New("fetchcache: cache is required")

type Options struct {
	// Required. Values are raw response bodies.
	Cache storecache.Cache[[]byte]

	Next          http.RoundTripper // nil => http.DefaultTransport
	Routes        []Route           // nil => DefaultRoutes()
	Invalidations []Invalidation    // nil => DefaultInvalidations()
	MaxBodyBytes  int64             // bodies larger than this are not stored; 0 => 1 MiB
	Logger        storecache.Logger
}

type Transport struct {
	cache   storecache.Cache[[]byte]
	next    http.RoundTripper
	maxBody int64
	log     storecache.Logger

	mu     sync.RWMutex
	routes []Route
	invs   []Invalidation

	sf singleflight.Group
}

var _ http.RoundTripper = (*Transport)(nil)

func New(opts Options) (*Transport, error) {
	if opts.Cache == nil {
		return nil, ErrNoCache
	}
	t := &Transport{
		cache:   opts.Cache,
		next:    opts.Next,
		maxBody: opts.MaxBodyBytes,
		log:     opts.Logger,
		routes:  opts.Routes,
		invs:    opts.Invalidations,
	}
	if t.next == nil {
		t.next = http.DefaultTransport
	}
	if t.maxBody <= 0 {
		t.maxBody = defaultMaxBodyBytes
	}
	if t.log == nil {
		t.log = storecache.NopLogger{}
	}
	if t.routes == nil {
		t.routes = DefaultRoutes()
	}
	if t.invs == nil {
		t.invs = DefaultInvalidations()
	}
	return t, nil
}

// Register adds a cache route. Routes are tried in registration order.
func (t *Transport) Register(r Route) {
	t.mu.Lock()
	t.routes = append(t.routes, r)
	t.mu.Unlock()
}

func (t *Transport) RegisterInvalidation(inv Invalidation) {
	t.mu.Lock()
	t.invs = append(t.invs, inv)
	t.mu.Unlock()
}

// Invalidate deletes cached responses by key.
func (t *Transport) Invalidate(ctx context.Context, keys ...string) {
	for _, k := range keys {
		t.sf.Forget(k)
		t.cache.Delete(ctx, k)
	}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if readOnly(req.Method) {
		if req.Method != http.MethodHead {
			if r, key, ok := t.route(req); ok {
				return t.cached(req, r, key)
			}
		}
		return t.next.RoundTrip(req)
	}

	keys := t.invalidated(req)
	resp, err := t.next.RoundTrip(req)
	if len(keys) > 0 {
		// the mutation may have landed even if the response was lost
		t.Invalidate(req.Context(), keys...)
		t.log.Debug("invalidated cached responses", storecache.Fields{"path": req.URL.Path, "keys": keys})
	}
	return resp, err
}

func (t *Transport) route(req *http.Request) (Route, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if r.Match == nil || r.Key == nil || !r.Match(req) {
			continue
		}
		if key := r.Key(req); key != "" {
			return r, key, true
		}
	}
	return Route{}, "", false
}

func (t *Transport) invalidated(req *http.Request) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var keys []string
	for _, inv := range t.invs {
		if inv.Match != nil && inv.Match(req) {
			keys = append(keys, inv.Keys...)
		}
	}
	return keys
}

// captured is a network response read fully into memory so that every
// coalesced caller gets its own copy.
type captured struct {
	status int
	proto  string
	header http.Header
	body   []byte
}

func (t *Transport) cached(req *http.Request, r Route, key string) (*http.Response, error) {
	ctx := req.Context()
	if body, ok := t.cache.Get(ctx, key); ok {
		t.log.Debug("served from cache", storecache.Fields{"route": r.Name, "key": key})
		return hit(req, body), nil
	}

	ch := t.sf.DoChan(key, func() (any, error) {
		return t.fetch(req, r, key)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// the shared fetch ran under another caller's context; if that caller
	// gave up, fetch again under ours
	if res.Err != nil && res.Shared && ctx.Err() == nil &&
		(errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
		t.log.Debug("coalesced fetch cancelled; refetching", storecache.Fields{"route": r.Name, "key": key})
		c, err := t.fetch(req, r, key)
		if err != nil {
			return nil, err
		}
		return miss(req, c), nil
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		t.log.Debug("coalesced cache miss", storecache.Fields{"route": r.Name, "key": key})
	}
	return miss(req, res.Val.(*captured)), nil
}

func (t *Transport) fetch(req *http.Request, r Route, key string) (*captured, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetchcache: read %s: %w", req.URL.Path, err)
	}
	c := &captured{status: resp.StatusCode, proto: resp.Proto, header: resp.Header.Clone(), body: body}
	t.store(req.Context(), r, key, c)
	return c, nil
}

func (t *Transport) store(ctx context.Context, r Route, key string, c *captured) {
	switch {
	case c.status < 200 || c.status > 299:
		return
	case int64(len(c.body)) > t.maxBody:
		t.log.Debug("response too large to cache", storecache.Fields{"key": key, "size": len(c.body)})
		return
	case !json.Valid(c.body):
		t.log.Debug("response is not JSON; not cached", storecache.Fields{"key": key})
		return
	}
	if err := t.cache.Set(ctx, key, c.body, r.TTL); err != nil {
		t.log.Warn("cache write failed", storecache.Fields{"key": key, "err": err})
	}
}

func hit(req *http.Request, body []byte) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set(HeaderCacheStatus, "HIT")
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func miss(req *http.Request, c *captured) *http.Response {
	h := c.header.Clone()
	h.Set(HeaderCacheStatus, "MISS")
	proto := c.proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		major, minor = 1, 1
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", c.status, http.StatusText(c.status)),
		StatusCode:    c.status,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(c.body)),
		ContentLength: int64(len(c.body)),
		Request:       req,
	}
}
