// Package handler provides type-safe JSON HTTP handlers.
//
// Handlers are generic functions that receive a bound request struct and
// return a Response:
//
//	type CreateRequest struct {
//		ClientID uuid.UUID `json:"clientId"`
//		PlanID   uuid.UUID `json:"servicePlanId"`
//	}
//
//	func (h *Handlers) create(ctx handler.Context, req CreateRequest) handler.Response {
//		res, err := h.svc.Create(ctx, tenantID, billing.CreateParams{...})
//		if err != nil {
//			return handler.Fail(err)
//		}
//		return handler.JSON(res, handler.WithJSONStatus(http.StatusCreated))
//	}
//
//	r.Post("/subscriptions", handler.Wrap(h.create,
//		handler.WithBinders[handler.Context, CreateRequest](binder.JSON()),
//		handler.WithErrorHandler[handler.Context, CreateRequest](errHandler),
//	))
//
// Every JSON body uses the same envelope:
//
//	{"data": ..., "meta": {...}, "error": {"code": "...", "message": "...", "details": {...}}}
//
// # Errors
//
// Binding and rendering failures, and error responses returned by handlers,
// go through an ErrorHandler. NewErrorHandler classifies errors in order:
// HTTPError values, ValidationError, binder failures, the supplied
// ErrorMapper functions, and finally a generic 500 that hides the cause.
// Client errors are logged at warn level and server errors at error level.
package handler
