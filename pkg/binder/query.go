package binder

import "net/http"

// Query creates a query parameter binder function.
//
// Supported struct tags:
//   - `query:"name"` - binds to query parameter "name"
//   - `query:"-"`    - skips the field
//
// Slices accept both repeated parameters and comma-separated values.
// Pointers stay nil when the parameter is absent.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
