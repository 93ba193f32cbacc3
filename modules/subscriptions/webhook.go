package subscriptions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/handler"
	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/binder"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/tenant"
)

// MaxWebhookBodySize caps gateway notification payloads.
const MaxWebhookBodySize = 1 << 20

// EventHandler applies a verified gateway event to local state.
type EventHandler interface {
	Handle(ctx context.Context, tenantID uuid.UUID, evt *gateway.Event) (billing.Outcome, error)
}

// Webhooks receives gateway notifications. Each tenant registers
// /webhooks/{tenantID}/{provider} with its processor; the payload is verified
// with that tenant's webhook secret before anything is applied.
type Webhooks struct {
	gateways     billing.GatewayResolver
	events       EventHandler
	log          *slog.Logger
	errorHandler handler.ErrorHandler[handler.Context]
}

func NewWebhooks(gateways billing.GatewayResolver, events EventHandler, log *slog.Logger) *Webhooks {
	if log == nil {
		log = slog.Default()
	}
	return &Webhooks{
		gateways:     gateways,
		events:       events,
		log:          log.With(logger.Component("billing.webhooks")),
		errorHandler: handler.NewErrorHandler(log, MapError),
	}
}

func (wh *Webhooks) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/{tenantID}/{provider}", handler.Wrap(wh.receive,
		handler.WithBinders[handler.Context, WebhookRequest](binder.Path(chi.URLParam)),
		handler.WithErrorHandler[handler.Context, WebhookRequest](wh.errorHandler),
	))
	return r
}

type WebhookRequest struct {
	TenantID uuid.UUID `path:"tenantID"`
	Provider string    `path:"provider"`
}

type WebhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome"`
}

func (wh *Webhooks) receive(ctx handler.Context, req WebhookRequest) handler.Response {
	provider := gateway.Provider(strings.ToLower(req.Provider))
	if req.TenantID == uuid.Nil || !provider.Valid() {
		return handler.Fail(handler.ErrNotFound)
	}
	reqCtx := tenant.WithID(ctx, req.TenantID)

	gw, err := wh.gateways.Resolve(reqCtx, req.TenantID)
	if err != nil {
		if errors.Is(err, gateway.ErrNotConfigured) {
			return handler.Fail(handler.ErrNotFound.Wrap(err))
		}
		return handler.Fail(handler.ErrInternalServerError.Wrap(err))
	}
	if gw.Provider() != provider {
		return handler.Fail(handler.ErrNotFound.WithMessage("Gateway provider mismatch"))
	}

	r := ctx.Request()
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.ResponseWriter(), r.Body, MaxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return handler.Fail(handler.ErrRequestEntityTooLarge.Wrap(err))
		}
		return handler.Fail(handler.ErrBadRequest.Wrap(err))
	}

	evt, err := gw.ParseEvent(reqCtx, payload, r.Header)
	if err != nil {
		if errors.Is(err, gateway.ErrMalformedEvent) {
			// Signed by the processor, so redelivery would not change it.
			wh.log.WarnContext(reqCtx, "malformed webhook acknowledged",
				logger.TenantID(req.TenantID),
				logger.Provider(string(provider)),
				logger.Error(err),
			)
			billing.WebhookEventsTotal.WithLabelValues(string(provider), "malformed", string(billing.OutcomeIgnored)).Inc()
			return handler.JSON(WebhookResponse{Received: true, Outcome: billing.OutcomeIgnored})
		}
		return handler.Fail(err)
	}

	outcome, err := wh.events.Handle(reqCtx, req.TenantID, evt)
	if err != nil {
		// Non-2xx makes the processor redeliver.
		return handler.Fail(handler.ErrInternalServerError.Wrap(err))
	}

	wh.log.DebugContext(reqCtx, "webhook processed",
		logger.EventID(evt.ID),
		logger.EventType(string(evt.Type)),
		slog.String("outcome", string(outcome)),
	)
	return handler.JSON(WebhookResponse{Received: true, Outcome: outcome})
}
