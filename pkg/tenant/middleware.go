package tenant

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrorHandler handles errors that occur during tenant resolution.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type config struct {
	errorHandler ErrorHandler
}

// Option configures the middleware.
type Option func(*config)

// WithErrorHandler sets a custom error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// Middleware requires a tenant identifier on every request, parses it as a
// UUID and stores it in the request context.
func Middleware(resolver Resolver, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{errorHandler: defaultErrorHandler}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier, err := resolver.Resolve(r)
			if err != nil {
				cfg.errorHandler(w, r, errors.Join(ErrInvalidIdentifier, err))
				return
			}
			if identifier == "" {
				cfg.errorHandler(w, r, ErrMissingTenant)
				return
			}

			id, err := uuid.Parse(identifier)
			if err != nil || id == uuid.Nil {
				cfg.errorHandler(w, r, fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithID(r.Context(), id)))
		})
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingTenant):
		http.Error(w, "Tenant identifier is required", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidIdentifier):
		http.Error(w, "Invalid tenant identifier", http.StatusBadRequest)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
