package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/lexbilling/pkg/binder"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/requestid"
)

const genericErrorMessage = "An error occurred processing your request"

// ErrorMapper translates a domain error into an HTTPError. It reports false
// for errors it does not recognise.
type ErrorMapper func(err error) (HTTPError, bool)

// failResponse hands err to the Wrap error handler.
type failResponse struct{ err error }

func (f failResponse) Render(http.ResponseWriter, *http.Request) error { return f.err }

// Fail returns a Response that routes err through the configured ErrorHandler,
// which maps, logs and renders it.
func Fail(err error) Response {
	if err == nil {
		err = ErrInternalServerError
	}
	return failResponse{err: err}
}

// Classify resolves err to the HTTPError rendered for it.
func Classify(err error, mappers ...ErrorMapper) HTTPError {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		details := make(map[string]any, len(validationErr))
		for field, messages := range validationErr {
			details[field] = messages
		}
		return HTTPError{
			Code:    http.StatusUnprocessableEntity,
			Key:     "validation_error",
			Message: "Validation failed",
			Details: details,
			Err:     err,
		}
	}

	switch {
	case errors.Is(err, binder.ErrRequestTooLarge):
		return ErrRequestEntityTooLarge.Wrap(err)
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return ErrUnsupportedMediaType.WithMessage(err.Error()).Wrap(err)
	case errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrFailedToParseQuery),
		errors.Is(err, binder.ErrFailedToParsePath):
		return ErrBadRequest.WithMessage(err.Error()).Wrap(err)
	}

	for _, m := range mappers {
		if httpErr, ok := m(err); ok {
			if httpErr.Err == nil {
				httpErr.Err = err
			}
			return httpErr
		}
	}

	return ErrInternalServerError.WithMessage(genericErrorMessage).Wrap(err)
}

// NewErrorHandler creates an error handler rendering the JSON error envelope.
// Configure it once and share it across routes.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx Context, err error) {
		httpErr := Classify(err, mappers...)
		r := ctx.Request()

		level := slog.LevelWarn
		if httpErr.Code >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", httpErr.Code),
			slog.String("error_code", httpErr.Key),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		resp := jsonResponse{status: httpErr.Code, body: JSONResponse{Error: httpErr.detail()}}
		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "failed to render error response",
				logger.Error(renderErr),
				logger.Component("error_handler"),
			)
		}
	}
}
