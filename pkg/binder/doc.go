// Package binder binds HTTP request data to Go structs.
//
// Three binders are provided, each reading only its own struct tag:
//
//   - JSON(): request bodies (strict decoding, 1 MiB limit)
//   - Query(): URL query parameters (`query:"name"`)
//   - Path(extractor): router path parameters (`path:"name"`)
//
// Fields implementing encoding.TextUnmarshaler (uuid.UUID, time.Time) are
// decoded through UnmarshalText, so identifiers can be bound directly:
//
//	type CancelRequest struct {
//	    ID     uuid.UUID `path:"id"`
//	    Reason string    `json:"reason"`
//	}
//
//	r.Post("/subscriptions/{id}/cancel", handler.Wrap(h.cancel,
//	    handler.WithBinders[handler.Context, CancelRequest](
//	        binder.Path(chi.URLParam),
//	        binder.JSON(),
//	    ),
//	))
//
// JSON() reports ErrBinderNotApplicable for requests without a body, which
// handler.Wrap skips, so optional bodies need no special casing.
package binder
