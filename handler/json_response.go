package handler

import (
	"encoding/json"
	"net/http"
)

// JSONResponse is the envelope every API response uses.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`
}

// ErrorDetail is the error member of the envelope.
type ErrorDetail struct {
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type jsonResponse struct {
	status int
	body   JSONResponse
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

type JSONOption func(*jsonResponse)

func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONMeta sets the meta member, such as list totals.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// JSON renders v as the data member of the envelope.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: JSONResponse{Data: v}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders err into the error envelope without logging it.
// Handlers that want logging and domain mapping return Fail(err) instead.
func JSONError(err error, opts ...JSONOption) Response {
	he := Classify(err)
	r := &jsonResponse{status: he.Code, body: JSONResponse{Error: he.detail()}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (e HTTPError) detail() *ErrorDetail {
	return &ErrorDetail{
		Code:    e.Key,
		Message: e.message(),
		Details: e.Details,
	}
}
