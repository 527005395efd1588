// Package storefront is a small client for the storefront cart endpoints:
// adding items, reading the cart and rendering cart sections.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/storecache"
	"github.com/unkn0wn-root/storecache/fetchcache"
)

// HeaderSubmit marks cart additions made by the purchase coordinator so
// other cart scripts can tell them apart.
const HeaderSubmit = "X-Coordinator-Submit"

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
	maxBody        = 8 << 20
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL string // required, e.g. https://shop.example.com

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Cache, when set, routes reads through a fetchcache.Transport wrapping
	// HTTPClient's transport.
	Cache  storecache.Cache[[]byte]
	Logger storecache.Logger
	Clock  storecache.Clock
}

// Client talks to the storefront's cart AJAX endpoints. It is safe for
// concurrent use.
type Client struct {
	base  *url.URL
	http  *http.Client
	log   storecache.Logger
	clock storecache.Clock
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("storefront: parse base URL: %w", err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	c := &Client{base: base, http: hc, log: opts.Logger, clock: opts.Clock}
	if c.log == nil {
		c.log = storecache.NopLogger{}
	}
	if c.clock == nil {
		c.clock = storecache.SystemClock
	}

	if opts.Cache != nil {
		tr, err := fetchcache.New(fetchcache.Options{
			Cache:  opts.Cache,
			Next:   hc.Transport,
			Logger: c.log,
		})
		if err != nil {
			return nil, err
		}
		cp := *hc
		cp.Transport = tr
		c.http = &cp
	}
	return c, nil
}

// AddItems posts items to /cart/add.js and returns the lines the storefront added.
func (c *Client) AddItems(ctx context.Context, items []Item) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	body, err := json.Marshal(struct {
		Items []Item `json:"items"`
	}{items})
	if err != nil {
		return nil, fmt.Errorf("storefront: encode items: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/cart/add.js", nil), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderSubmit, "true")

	var out struct {
		Items []LineItem `json:"items"`
	}
	if err := c.do(req, "add items", &out); err != nil {
		return nil, err
	}
	c.log.Debug("items added to cart", storecache.Fields{"lines": len(items), "added": len(out.Items)})
	return out.Items, nil
}

// Cart reads /cart.js.
func (c *Client) Cart(ctx context.Context) (Cart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/cart.js", nil), nil)
	if err != nil {
		return Cart{}, err
	}
	req.Header.Set("Accept", "application/json")

	var cart Cart
	if err := c.do(req, "read cart", &cart); err != nil {
		return Cart{}, err
	}
	return cart, nil
}

// Sections renders the named theme sections and returns their HTML by name.
// A timestamp parameter keeps intermediaries from serving stale markup.
func (c *Client) Sections(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	q := url.Values{}
	q.Set("sections", strings.Join(names, ","))
	q.Set("timestamp", strconv.FormatInt(c.clock.Now().UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/", q), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	out := make(map[string]string, len(names))
	var raw map[string]*string
	if err := c.do(req, "render sections", &raw); err != nil {
		return nil, err
	}
	for name, html := range raw {
		// unknown sections come back as null
		if html != nil {
			out[name] = *html
		}
	}
	return out, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(req *http.Request, op string, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("storefront: %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("storefront: %s: decode response: %w", op, err)
	}
	return nil
}
