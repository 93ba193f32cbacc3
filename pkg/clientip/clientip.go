// Package clientip resolves the caller address of an HTTP request and carries
// it in the request context so log records can include it.
//
// Forwarding headers are only consulted when they are listed as trusted; a
// service reached directly uses RemoteAddr alone.
package clientip

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// DefaultHeaders are trusted when Middleware is given none.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

type contextKey struct{}

func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

func FromContext(ctx context.Context) string {
	ip, _ := ctx.Value(contextKey{}).(string)
	return ip
}

// FromRequest returns the first valid address found in the trusted headers,
// falling back to RemoteAddr. Comma separated headers are read left to right.
func FromRequest(r *http.Request, trusted ...string) string {
	for _, h := range trusted {
		for candidate := range strings.SplitSeq(r.Header.Get(h), ",") {
			if ip := normalize(candidate); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalize(host)
}

// Middleware stores the resolved address in the request context.
func Middleware(trusted ...string) func(http.Handler) http.Handler {
	if len(trusted) == 0 {
		trusted = DefaultHeaders
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := FromRequest(r, trusted...); ip != "" {
				r = r.WithContext(WithContext(r.Context(), ip))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoggerExtractor adds client_ip to log records written with a request context.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ip := FromContext(ctx); ip != "" {
			return slog.String("client_ip", ip), true
		}
		return slog.Attr{}, false
	}
}

func normalize(s string) string {
	addr, err := netip.ParseAddr(strings.Trim(strings.TrimSpace(s), "[]"))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}
