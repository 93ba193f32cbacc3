package billing

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithNotifier enables tenant-admin notifications. The default drops them.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithReportInvalidator drops cached report summaries after writes.
func WithReportInvalidator(r ReportInvalidator) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.reports = r
		}
	}
}

// WithCheckoutURLs sets the pages the hosted checkout returns to.
func WithCheckoutURLs(success, cancel string) ServiceOption {
	return func(s *Service) {
		if success != "" {
			s.successURL = success
		}
		if cancel != "" {
			s.cancelURL = cancel
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces uuid.New for subscription ids. Intended for tests.
func WithIDGenerator(fn func() uuid.UUID) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}
