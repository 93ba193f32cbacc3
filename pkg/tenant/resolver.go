package tenant

import (
	"net/http"
	"strings"
)

// Header is the request header carrying the tenant id on the operator API.
const Header = "X-Tenant-ID"

// Resolver extracts the tenant identifier from HTTP requests.
// It returns an empty string when the request carries none.
type Resolver interface {
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver reads the tenant identifier from a request header.
type HeaderResolver struct {
	HeaderName string
}

// NewHeaderResolver creates a header resolver; an empty name means X-Tenant-ID.
func NewHeaderResolver(headerName string) *HeaderResolver {
	if headerName == "" {
		headerName = Header
	}
	return &HeaderResolver{HeaderName: headerName}
}

func (r *HeaderResolver) Resolve(req *http.Request) (string, error) {
	return strings.TrimSpace(req.Header.Get(r.HeaderName)), nil
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) (string, error)

func (f ResolverFunc) Resolve(r *http.Request) (string, error) {
	return f(r)
}
