package billing

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

// BestEffort runs a side operation whose failure must not block the primary
// state change. Failures are logged with attrs and counted; the return value
// only reports whether fn succeeded.
func BestEffort(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error, attrs ...slog.Attr) bool {
	err := fn(ctx)
	if err == nil {
		return true
	}

	SideEffectFailures.WithLabelValues(name).Inc()
	log.LogAttrs(ctx, slog.LevelWarn, "best-effort operation failed",
		append([]slog.Attr{logger.Event(name), logger.Error(err)}, attrs...)...,
	)
	return false
}
