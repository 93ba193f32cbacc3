// Package tenant scopes HTTP requests to a law-firm tenant.
//
// The operator API identifies the tenant with the X-Tenant-ID header. The
// middleware parses it into a uuid.UUID and stores it in the request
// context, where handlers read it and pass it explicitly to services:
//
//	r.Use(tenant.Middleware(tenant.NewHeaderResolver(tenant.Header)))
//
//	func (h *Handlers) list(ctx handler.Context, req ListRequest) handler.Response {
//		tenantID := tenant.MustIDFromContext(ctx)
//		...
//	}
//
// LoggerExtractor adds tenant_id to every log record written with a request
// context.
package tenant
