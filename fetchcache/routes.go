package fetchcache

import (
	"net/http"
	"strings"
	"time"
)

// CartKey is the cache key shared by cart reads and cart mutations.
const CartKey = "cart-data"

const (
	productTTL = 10 * time.Minute
	cartTTL    = time.Minute
)

// Route makes matching GET requests cacheable under Key(req) for TTL.
type Route struct {
	Name  string
	Match func(*http.Request) bool
	Key   func(*http.Request) string
	TTL   time.Duration // 0 => the cache's DefaultTTL
}

// Invalidation deletes Keys after any matching request completes.
type Invalidation struct {
	Name  string
	Match func(*http.Request) bool
	Keys  []string
}

// DefaultRoutes caches product JSON by URL and the cart under CartKey.
func DefaultRoutes() []Route {
	return []Route{
		{
			Name:  "product",
			Match: isProductJSON,
			Key:   func(r *http.Request) string { return r.URL.RequestURI() },
			TTL:   productTTL,
		},
		{
			Name:  "cart",
			Match: func(r *http.Request) bool { return r.URL.Path == "/cart.js" },
			Key:   func(*http.Request) string { return CartKey },
			TTL:   cartTTL,
		},
	}
}

// DefaultInvalidations drops the cached cart on any cart mutation.
func DefaultInvalidations() []Invalidation {
	return []Invalidation{
		{
			Name: "cart-mutation",
			Match: func(r *http.Request) bool {
				return !readOnly(r.Method) && strings.HasPrefix(r.URL.Path, "/cart/")
			},
			Keys: []string{CartKey},
		},
	}
}

func isProductJSON(r *http.Request) bool {
	p := r.URL.Path
	return strings.HasPrefix(p, "/products/") && strings.HasSuffix(p, ".js")
}

func readOnly(method string) bool {
	return method == "" || method == http.MethodGet || method == http.MethodHead
}
