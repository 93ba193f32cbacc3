package subscriptions

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Mountable interface {
	Handle() http.Handler
}

// RouterOptions selects the services mounted by Router. Each is optional.
type RouterOptions struct {
	// Webhooks receives gateway notifications under /webhooks/{tenantID}/{provider}.
	Webhooks Mountable
	// API serves the tenant operator endpoints (/subscriptions, /plans).
	API Mountable
}

// Router mounts the billing module.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Mount("/", subscriptions.Router(subscriptions.RouterOptions{
//	    Webhooks: subscriptions.NewWebhooks(resolver, reconciler, log),
//	    API:      subscriptions.NewAPI(svc, reporter, log),
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Webhooks != nil {
		r.Mount("/webhooks", opts.Webhooks.Handle())
	}
	if opts.API != nil {
		r.Mount("/", opts.API.Handle())
	}

	return r
}
