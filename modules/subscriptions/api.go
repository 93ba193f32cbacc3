package subscriptions

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/handler"
	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/binder"
	"github.com/dmitrymomot/lexbilling/pkg/tenant"
	"github.com/dmitrymomot/lexbilling/pkg/validator"
)

// SubscriptionService is the lifecycle surface used by the operator API.
type SubscriptionService interface {
	Create(ctx context.Context, tenantID uuid.UUID, p billing.CreateParams) (*billing.CreateResult, error)
	RegenerateCheckout(ctx context.Context, tenantID, id uuid.UUID) (*billing.CheckoutResult, error)
	Cancel(ctx context.Context, tenantID, id uuid.UUID, reason string) (*billing.Subscription, error)
	Get(ctx context.Context, tenantID, id uuid.UUID) (*billing.SubscriptionDetails, error)
	List(ctx context.Context, tenantID uuid.UUID, filter billing.ListFilter) ([]billing.Subscription, error)
	Payments(ctx context.Context, tenantID, id uuid.UUID) ([]billing.Payment, error)
	SyncPlan(ctx context.Context, tenantID, planID uuid.UUID) (*billing.Plan, error)
}

// ReportService builds the operator dashboard summary.
type ReportService interface {
	Summary(ctx context.Context, tenantID uuid.UUID, now time.Time) (*billing.Summary, error)
}

// API serves the tenant operator endpoints. The tenant comes from the
// X-Tenant-ID header and is passed explicitly to every service call.
type API struct {
	svc          SubscriptionService
	reports      ReportService
	errorHandler handler.ErrorHandler[handler.Context]
	now          func() time.Time
}

// APIOption configures an API.
type APIOption func(*API)

// WithAPIClock overrides the clock used for report periods.
func WithAPIClock(now func() time.Time) APIOption {
	return func(a *API) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAPI(svc SubscriptionService, reports ReportService, log *slog.Logger, opts ...APIOption) *API {
	a := &API{
		svc:          svc,
		reports:      reports,
		errorHandler: handler.NewErrorHandler(log, MapError),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(tenant.Middleware(
		tenant.NewHeaderResolver(tenant.Header),
		tenant.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			a.errorHandler(handler.NewContext(w, r), err)
		}),
	))

	path := binder.Path(chi.URLParam)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", wrap(a, a.list, binder.Query()))
		r.Post("/", wrap(a, a.create, binder.JSON()))
		r.Get("/reports", wrap(a, a.summary))
		r.Get("/{id}", wrap(a, a.get, path))
		r.Get("/{id}/payments", wrap(a, a.payments, path))
		r.Post("/{id}/cancel", wrap(a, a.cancel, path, binder.JSON()))
		r.Post("/{id}/regenerate-checkout", wrap(a, a.regenerateCheckout, path))
	})
	r.Post("/plans/{id}/sync", wrap(a, a.syncPlan, path))

	return r
}

func wrap[R any](a *API, h handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](a.errorHandler),
	)
}

type ListRequest struct {
	Status   string    `query:"status"`
	ClientID uuid.UUID `query:"clientId"`
	PlanID   uuid.UUID `query:"servicePlanId"`
}

func (a *API) list(ctx handler.Context, req ListRequest) handler.Response {
	filter := billing.ListFilter{ClientID: req.ClientID, PlanID: req.PlanID}
	if req.Status != "" {
		status, err := billing.ParseStatus(req.Status)
		if err != nil {
			verr := handler.NewValidationError()
			verr.Add("status", "unknown subscription status")
			return handler.Fail(verr)
		}
		filter.Status = status
	}

	subs, err := a.svc.List(ctx, tenant.MustIDFromContext(ctx), filter)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(subs, handler.WithJSONMeta(map[string]any{"total": len(subs)}))
}

type CreateRequest struct {
	ClientID uuid.UUID `json:"clientId"`
	PlanID   uuid.UUID `json:"servicePlanId"`
}

func (r CreateRequest) validate() error {
	return validator.Apply(
		validator.RequiredUUID("clientId", r.ClientID),
		validator.RequiredUUID("servicePlanId", r.PlanID),
	)
}

type CreateResponse struct {
	Subscription      *billing.Subscription `json:"subscription"`
	CheckoutURL       string                `json:"checkoutUrl"`
	CheckoutExpiresAt *time.Time            `json:"checkoutExpiresAt,omitempty"`
}

func (a *API) create(ctx handler.Context, req CreateRequest) handler.Response {
	if err := req.validate(); err != nil {
		return handler.Fail(err)
	}

	res, err := a.svc.Create(ctx, tenant.MustIDFromContext(ctx), billing.CreateParams{
		ClientID: req.ClientID,
		PlanID:   req.PlanID,
	})
	if err != nil {
		return handler.Fail(err)
	}

	return handler.JSON(CreateResponse{
		Subscription:      res.Subscription,
		CheckoutURL:       res.CheckoutURL,
		CheckoutExpiresAt: optionalTime(res.CheckoutExpiresAt),
	}, handler.WithJSONStatus(http.StatusCreated))
}

type SubscriptionRequest struct {
	ID uuid.UUID `path:"id"`
}

func (a *API) get(ctx handler.Context, req SubscriptionRequest) handler.Response {
	details, err := a.svc.Get(ctx, tenant.MustIDFromContext(ctx), req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(details)
}

func (a *API) payments(ctx handler.Context, req SubscriptionRequest) handler.Response {
	payments, err := a.svc.Payments(ctx, tenant.MustIDFromContext(ctx), req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(payments, handler.WithJSONMeta(map[string]any{"total": len(payments)}))
}

type CancelRequest struct {
	ID     uuid.UUID `path:"id" json:"-"`
	Reason string    `json:"reason"`
}

func (r CancelRequest) validate() error {
	return validator.Apply(
		validator.RequiredUUID("id", r.ID),
		validator.MaxLenString("reason", strings.TrimSpace(r.Reason), billing.MaxCancelReasonLength),
	)
}

func (a *API) cancel(ctx handler.Context, req CancelRequest) handler.Response {
	if err := req.validate(); err != nil {
		return handler.Fail(err)
	}

	sub, err := a.svc.Cancel(ctx, tenant.MustIDFromContext(ctx), req.ID, req.Reason)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(sub)
}

type CheckoutResponse struct {
	CheckoutURL string     `json:"checkoutUrl"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (a *API) regenerateCheckout(ctx handler.Context, req SubscriptionRequest) handler.Response {
	res, err := a.svc.RegenerateCheckout(ctx, tenant.MustIDFromContext(ctx), req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(CheckoutResponse{CheckoutURL: res.URL, ExpiresAt: optionalTime(res.ExpiresAt)})
}

type PlanRequest struct {
	ID uuid.UUID `path:"id"`
}

func (a *API) syncPlan(ctx handler.Context, req PlanRequest) handler.Response {
	plan, err := a.svc.SyncPlan(ctx, tenant.MustIDFromContext(ctx), req.ID)
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(plan)
}

func (a *API) summary(ctx handler.Context, _ struct{}) handler.Response {
	summary, err := a.reports.Summary(ctx, tenant.MustIDFromContext(ctx), a.now())
	if err != nil {
		return handler.Fail(err)
	}
	return handler.JSON(summary)
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
