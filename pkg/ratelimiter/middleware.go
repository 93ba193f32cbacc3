package ratelimiter

import (
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/lexbilling/pkg/clientip"
)

const maxKeyLength = 64

// KeyFunc extracts the bucket key from a request. Empty keys share one bucket.
type KeyFunc func(r *http.Request) string

// ByClientIP keys on the address stored by clientip.Middleware, falling back
// to the connection address.
func ByClientIP(r *http.Request) string {
	if ip := clientip.FromContext(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ByHeader(name string) KeyFunc {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// ByPathSegment keys on the first path segment after prefix, so
// /webhooks/{tenantID}/... requests are bucketed per tenant. Other paths
// yield an empty key.
func ByPathSegment(prefix string) KeyFunc {
	return func(r *http.Request) string {
		rest, ok := strings.CutPrefix(r.URL.Path, prefix)
		if !ok {
			return ""
		}
		seg, _, _ := strings.Cut(rest, "/")
		return seg
	}
}

// Composite joins the non-empty parts of several keys. Keys longer than 64
// bytes are hashed with FNV-1a.
func Composite(fns ...KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(fns))
		for _, fn := range fns {
			if k := fn(r); k != "" {
				parts = append(parts, k)
			}
		}
		key := strings.Join(parts, ":")
		if len(key) <= maxKeyLength {
			return key
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		return strconv.FormatUint(h.Sum64(), 36)
	}
}

// LimitHandler writes the response for a rejected request. Rate limit headers
// are already set.
type LimitHandler func(w http.ResponseWriter, r *http.Request, res Result)

func defaultLimitHandler(w http.ResponseWriter, _ *http.Request, _ Result) {
	http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
}

type middlewareConfig struct {
	key     KeyFunc
	onLimit LimitHandler
	now     func() time.Time
}

type MiddlewareOption func(*middlewareConfig)

func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.key = fn
		}
	}
}

func WithLimitHandler(fn LimitHandler) MiddlewareOption {
	return func(c *middlewareConfig) {
		if fn != nil {
			c.onLimit = fn
		}
	}
}

// Middleware limits requests per key. It fails open when the store errors.
func Middleware(b *Bucket, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{key: ByClientIP, onLimit: defaultLimitHandler, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := b.Allow(r.Context(), cfg.key(r))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, res.Remaining)))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed() {
				if wait := res.RetryAfter(cfg.now()); wait > 0 {
					h.Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
				}
				cfg.onLimit(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
