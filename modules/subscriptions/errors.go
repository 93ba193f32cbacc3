package subscriptions

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/lexbilling/handler"
	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/tenant"
	"github.com/dmitrymomot/lexbilling/pkg/validator"
)

// MapError translates billing, gateway and tenant errors into API errors.
func MapError(err error) (handler.HTTPError, bool) {
	var (
		dup     *billing.DuplicateActiveSubscriptionError
		invalid *billing.InvalidStateError
		gwErr   *gateway.Error
	)

	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
		details := make(map[string]any, len(verrs))
		for _, field := range verrs.Fields() {
			details[field] = verrs.Get(field)
		}
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "validation_error").
			WithMessage("Validation failed").
			WithDetails(details), true
	}

	switch {
	case errors.Is(err, tenant.ErrMissingTenant):
		return handler.NewHTTPError(http.StatusBadRequest, "tenant_required").
			WithMessage("X-Tenant-ID header is required"), true
	case errors.Is(err, tenant.ErrInvalidIdentifier):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_tenant").
			WithMessage("X-Tenant-ID must be a UUID"), true

	case errors.As(err, &dup):
		return handler.NewHTTPError(http.StatusConflict, "duplicate_subscription").
			WithMessage("Client already has an open subscription to this plan").
			WithDetails(map[string]any{"existingSubscriptionId": dup.ExistingID.String()}), true
	case errors.As(err, &invalid):
		return handler.NewHTTPError(http.StatusConflict, "invalid_state").
			WithMessage(invalid.Error()).
			WithDetails(map[string]any{"status": string(invalid.Status)}), true
	case errors.Is(err, billing.ErrInvalidState):
		return handler.NewHTTPError(http.StatusConflict, "invalid_state").WithMessage(err.Error()), true
	case errors.Is(err, billing.ErrNotFound):
		return handler.ErrNotFound, true
	case errors.Is(err, billing.ErrPlanNotSynced):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "plan_not_synced").
			WithMessage(err.Error()), true
	case errors.Is(err, gateway.ErrNotConfigured):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "gateway_not_configured").
			WithMessage("Payment gateway is not configured for this tenant"), true
	case errors.Is(err, billing.ErrReasonTooLong):
		return validation("reason", err.Error()), true
	case errors.Is(err, gateway.ErrMissingCustomerEmail):
		return validation("clientId", "client has no email address"), true
	case errors.Is(err, billing.ErrInvalidInput):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "validation_error").WithMessage(err.Error()), true
	case errors.Is(err, gateway.ErrUnsupported):
		return handler.NewHTTPError(http.StatusUnprocessableEntity, "unsupported_operation").
			WithMessage(err.Error()), true

	case errors.Is(err, gateway.ErrInvalidSignature):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_signature").
			WithMessage("Webhook signature verification failed"), true

	case errors.As(err, &gwErr):
		if gwErr.Retryable {
			return handler.NewHTTPError(http.StatusServiceUnavailable, "gateway_unavailable").
				WithMessage("Payment gateway is temporarily unavailable"), true
		}
		return handler.NewHTTPError(http.StatusBadGateway, "gateway_error").
			WithMessage("Payment gateway rejected the request"), true
	}

	return handler.HTTPError{}, false
}

func validation(field, msg string) handler.HTTPError {
	return handler.NewHTTPError(http.StatusUnprocessableEntity, "validation_error").
		WithMessage("Validation failed").
		WithDetails(map[string]any{field: []string{msg}})
}
