package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/validator"
)

// MaxCancelReasonLength is the longest accepted cancel reason, in characters.
const MaxCancelReasonLength = 500

// RecentPaymentsLimit is how many payments Get includes.
const RecentPaymentsLimit = 12

// GatewayResolver returns the payment gateway configured for a tenant.
type GatewayResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID) (gateway.Gateway, error)
}

// ReportInvalidator drops cached report summaries for a tenant.
type ReportInvalidator interface {
	Invalidate(ctx context.Context, tenantID uuid.UUID)
}

// Service manages the subscription lifecycle on behalf of tenant operators.
type Service struct {
	store      Store
	gateways   GatewayResolver
	notifier   Notifier
	reports    ReportInvalidator
	log        *slog.Logger
	now        func() time.Time
	newID      func() uuid.UUID
	successURL string
	cancelURL  string
}

// NewService creates a Service. Panics if store or gateways is nil.
func NewService(store Store, gateways GatewayResolver, opts ...ServiceOption) *Service {
	if store == nil {
		panic("billing: Store is required")
	}
	if gateways == nil {
		panic("billing: GatewayResolver is required")
	}

	s := &Service{
		store:      store,
		gateways:   gateways,
		notifier:   nopNotifier{},
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.New,
		successURL: "http://localhost:5173/client-subscriptions?success=true&session_id={CHECKOUT_SESSION_ID}",
		cancelURL:  "http://localhost:5173/client-subscriptions?canceled=true",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("billing.service"))
	return s
}

type CreateParams struct {
	ClientID uuid.UUID
	PlanID   uuid.UUID
}

type CreateResult struct {
	Subscription      *Subscription
	CheckoutURL       string
	CheckoutExpiresAt time.Time
}

type CheckoutResult struct {
	URL       string
	ExpiresAt time.Time
}

// Create opens a hosted checkout for the client and records an INCOMPLETE
// subscription. Nothing is persisted when a gateway call fails.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, p CreateParams) (*CreateResult, error) {
	if err := validator.Apply(
		validator.RequiredUUID("clientId", p.ClientID).Wrap(ErrInvalidInput),
		validator.RequiredUUID("servicePlanId", p.PlanID).Wrap(ErrInvalidInput),
	); err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlan(ctx, tenantID, p.PlanID)
	if err != nil {
		return nil, err
	}
	if err := requireCheckoutReady(plan); err != nil {
		return nil, err
	}

	client, err := s.store.GetClient(ctx, tenantID, p.ClientID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.FindOpenSubscription(ctx, tenantID, client.ID, plan.ID)
	switch {
	case err == nil:
		return nil, &DuplicateActiveSubscriptionError{ExistingID: existing.ID}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	gw, err := s.gateways.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	customerRef, err := gw.FindOrCreateCustomer(ctx, gateway.CustomerParams{
		TenantID: tenantID,
		ClientID: client.ID,
		Name:     client.Name,
		Email:    client.Email,
		Phone:    client.Phone,
	})
	if err != nil {
		return nil, err
	}

	id := s.newID()
	sess, err := gw.CreateCheckoutSession(ctx, s.checkoutParams(id, tenantID, client.ID, plan, customerRef))
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub := &Subscription{
		ID:          id,
		TenantID:    tenantID,
		ClientID:    client.ID,
		PlanID:      plan.ID,
		CustomerRef: customerRef,
		Status:      StatusIncomplete,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription created",
		logger.TenantID(tenantID),
		logger.SubscriptionID(sub.ID),
		logger.ClientID(client.ID),
		logger.PlanID(plan.ID),
		logger.Status("", string(sub.Status)),
	)

	return &CreateResult{Subscription: sub, CheckoutURL: sess.URL, CheckoutExpiresAt: sess.ExpiresAt}, nil
}

// RegenerateCheckout issues a fresh checkout link for a subscription that has
// not been paid yet. The subscription itself is left untouched.
func (s *Service) RegenerateCheckout(ctx context.Context, tenantID, id uuid.UUID) (*CheckoutResult, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusIncomplete {
		return nil, &InvalidStateError{Op: "regenerate checkout for", Status: sub.Status}
	}

	plan, err := s.store.GetPlan(ctx, tenantID, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if err := requireCheckoutReady(plan); err != nil {
		return nil, err
	}

	gw, err := s.gateways.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	customerRef := sub.CustomerRef
	if customerRef == "" {
		client, err := s.store.GetClient(ctx, tenantID, sub.ClientID)
		if err != nil {
			return nil, err
		}
		customerRef, err = gw.FindOrCreateCustomer(ctx, gateway.CustomerParams{
			TenantID: tenantID,
			ClientID: client.ID,
			Name:     client.Name,
			Email:    client.Email,
			Phone:    client.Phone,
		})
		if err != nil {
			return nil, err
		}
	}

	sess, err := gw.CreateCheckoutSession(ctx, s.checkoutParams(sub.ID, tenantID, sub.ClientID, plan, customerRef))
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{URL: sess.URL, ExpiresAt: sess.ExpiresAt}, nil
}

// Cancel ends a subscription. Canceling a CANCELED subscription succeeds
// without changes; UNPAID subscriptions cannot be canceled. The gateway-side
// cancellation is best effort and never blocks the local transition.
func (s *Service) Cancel(ctx context.Context, tenantID, id uuid.UUID, reason string) (*Subscription, error) {
	reason = strings.TrimSpace(reason)
	if err := validator.Apply(
		validator.RequiredUUID("id", id).Wrap(ErrInvalidInput),
		validator.MaxLenString("reason", reason, MaxCancelReasonLength).Wrap(ErrReasonTooLong),
	); err != nil {
		return nil, err
	}

	sub, err := s.store.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case StatusCanceled:
		return sub, nil
	case StatusUnpaid:
		return nil, &InvalidStateError{Op: "cancel", Status: sub.Status}
	}

	if sub.SubscriptionRef != "" {
		s.cancelAtGateway(ctx, tenantID, id, sub.SubscriptionRef)
	}

	var (
		from    Status
		lateRef string
	)
	now := s.now()
	updated, err := s.store.UpdateSubscription(ctx, tenantID, id, func(cur *Subscription) error {
		from = cur.Status
		lateRef = ""
		if cur.SubscriptionRef != sub.SubscriptionRef {
			// Checkout completed while the cancel was in flight.
			lateRef = cur.SubscriptionRef
		}
		if cur.Status == StatusCanceled {
			return nil
		}
		changed, err := advance(ctx, cur, EventOperatorCancel, Trigger{At: now})
		if err != nil {
			return err
		}
		if !changed {
			return &InvalidStateError{Op: "cancel", Status: cur.Status}
		}
		cur.CancelReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from == StatusCanceled {
		return updated, nil
	}
	if lateRef != "" {
		s.cancelAtGateway(ctx, tenantID, id, lateRef)
	}

	TransitionsTotal.WithLabelValues(string(from), string(StatusCanceled)).Inc()
	s.log.InfoContext(ctx, "subscription canceled",
		logger.TenantID(tenantID),
		logger.SubscriptionID(id),
		logger.Status(string(from), string(StatusCanceled)),
	)
	s.invalidate(ctx, tenantID)
	notifyAbout(ctx, s.log, s.store, s.notifier, updated, NotifySubscriptionCanceled, Money{}, reason)

	return updated, nil
}

func (s *Service) cancelAtGateway(ctx context.Context, tenantID, id uuid.UUID, ref string) {
	BestEffort(ctx, s.log, "gateway_cancel", func(ctx context.Context) error {
		gw, err := s.gateways.Resolve(ctx, tenantID)
		if err != nil {
			return err
		}
		err = gw.CancelSubscription(ctx, ref)
		if errors.Is(err, gateway.ErrSubscriptionNotFound) {
			s.log.WarnContext(ctx, "subscription already gone at gateway",
				logger.SubscriptionID(id), logger.GatewayRef(ref))
			return nil
		}
		return err
	}, logger.TenantID(tenantID), logger.SubscriptionID(id), logger.GatewayRef(ref))
}

// Get returns the subscription with its plan, client and most recent payments.
func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*SubscriptionDetails, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	out := &SubscriptionDetails{Subscription: *sub}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		plan, err := s.store.GetPlan(gctx, tenantID, sub.PlanID)
		out.Plan = plan
		return err
	})
	g.Go(func() error {
		client, err := s.store.GetClient(gctx, tenantID, sub.ClientID)
		out.Client = client
		return err
	})
	g.Go(func() error {
		payments, err := s.store.ListPayments(gctx, tenantID, sub.ID, RecentPaymentsLimit)
		out.Payments = payments
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Subscription, error) {
	return s.store.ListSubscriptions(ctx, tenantID, filter)
}

// Payments returns the full payment history, newest first.
func (s *Service) Payments(ctx context.Context, tenantID, id uuid.UUID) ([]Payment, error) {
	if _, err := s.store.GetSubscription(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, tenantID, id, 0)
}

// SyncPlan creates the plan's recurring price at the gateway and stores the
// returned references. An existing product is reused.
func (s *Service) SyncPlan(ctx context.Context, tenantID, planID uuid.UUID) (*Plan, error) {
	plan, err := s.store.GetPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	if !plan.Interval.Valid() {
		return nil, fmt.Errorf("%w: unknown billing interval %q", ErrInvalidInput, plan.Interval)
	}
	if plan.Price.Amount <= 0 {
		return nil, fmt.Errorf("%w: plan price must be positive", ErrInvalidInput)
	}

	gw, err := s.gateways.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	unit, count := gateway.IntervalMonth, plan.Interval.Months()
	if plan.Interval == IntervalYearly {
		unit, count = gateway.IntervalYear, 1
	}
	currency := strings.ToLower(plan.Price.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	refs, err := gw.SyncPlan(ctx, gateway.PlanParams{
		PlanID:        plan.ID,
		TenantID:      tenantID,
		ProductRef:    plan.ProductRef,
		Name:          plan.Name,
		Description:   plan.Description,
		Amount:        plan.Price.Amount,
		Currency:      currency,
		Unit:          unit,
		IntervalCount: count,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SetPlanRefs(ctx, tenantID, plan.ID, refs.ProductRef, refs.PriceRef); err != nil {
		return nil, err
	}
	plan.ProductRef, plan.PriceRef = refs.ProductRef, refs.PriceRef

	s.log.InfoContext(ctx, "plan synced with gateway",
		logger.TenantID(tenantID),
		logger.PlanID(plan.ID),
		logger.GatewayRef(refs.PriceRef),
	)
	return plan, nil
}

func (s *Service) checkoutParams(subID, tenantID, clientID uuid.UUID, plan *Plan, customerRef string) gateway.CheckoutParams {
	return gateway.CheckoutParams{
		CustomerRef:       customerRef,
		PriceRef:          plan.PriceRef,
		SuccessURL:        s.successURL,
		CancelURL:         s.cancelURL,
		ClientReferenceID: subID.String(),
		Metadata: map[string]string{
			gateway.MetaSubscriptionID: subID.String(),
			gateway.MetaTenantID:       tenantID.String(),
			gateway.MetaClientID:       clientID.String(),
			gateway.MetaPlanID:         plan.ID.String(),
		},
	}
}

func (s *Service) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if s.reports != nil {
		s.reports.Invalidate(ctx, tenantID)
	}
}

func requireCheckoutReady(plan *Plan) error {
	if !plan.Active {
		return ErrPlanInactive
	}
	if !plan.Synced() {
		return ErrPlanNotSynced
	}
	return nil
}

// notifyAbout loads the client and plan names for sub and sends a
// notification. Failures are logged and counted only.
func notifyAbout(ctx context.Context, log *slog.Logger, store Store, n Notifier, sub *Subscription, kind NotificationKind, amount Money, reason string) {
	BestEffort(ctx, log, "notify_"+string(kind), func(ctx context.Context) error {
		client, err := store.GetClient(ctx, sub.TenantID, sub.ClientID)
		if err != nil {
			return err
		}
		plan, err := store.GetPlan(ctx, sub.TenantID, sub.PlanID)
		if err != nil {
			return err
		}
		err = n.Notify(ctx, Notification{
			Kind:       kind,
			TenantID:   sub.TenantID,
			ClientName: client.Name,
			PlanName:   plan.Name,
			Amount:     amount,
			Reason:     reason,
		})
		if errors.Is(err, ErrNoRecipient) {
			log.DebugContext(ctx, "notification skipped, no recipient configured",
				logger.TenantID(sub.TenantID), logger.Event(string(kind)))
			return nil
		}
		return err
	}, logger.TenantID(sub.TenantID), logger.SubscriptionID(sub.ID))
}
