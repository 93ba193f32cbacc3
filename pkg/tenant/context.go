package tenant

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey struct{}

// WithID adds a tenant id to the context.
func WithID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IDFromContext retrieves the tenant id from the context.
func IDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(contextKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// MustIDFromContext retrieves the tenant id or panics. Use only behind Middleware.
func MustIDFromContext(ctx context.Context) uuid.UUID {
	id, ok := IDFromContext(ctx)
	if !ok {
		panic("tenant: no tenant in context")
	}
	return id
}

// LoggerExtractor returns a logger.ContextExtractor adding tenant_id.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := IDFromContext(ctx); ok {
			return slog.String("tenant_id", id.String()), true
		}
		return slog.Attr{}, false
	}
}
