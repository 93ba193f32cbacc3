package billing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/statemachine"
)

// defaultFailureReason is recorded when the gateway gives no failure detail.
const defaultFailureReason = "Erro desconhecido"

// Outcome reports what Reconciler.Handle did with an event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeError     Outcome = "error"
)

// Reconciler applies gateway notifications to local subscriptions. Each event
// is applied at most once per (tenant, provider, event id).
type Reconciler struct {
	store    Store
	gateways GatewayResolver
	notifier Notifier
	reports  ReportInvalidator
	log      *slog.Logger
	now      func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

// WithReconcilerGateways lets the reconciler cancel gateway subscriptions
// that were paid for after the local subscription had already ended.
func WithReconcilerGateways(g GatewayResolver) ReconcilerOption {
	return func(r *Reconciler) {
		if g != nil {
			r.gateways = g
		}
	}
}

func WithReconcilerNotifier(n Notifier) ReconcilerOption {
	return func(r *Reconciler) {
		if n != nil {
			r.notifier = n
		}
	}
}

func WithReconcilerInvalidator(inv ReportInvalidator) ReconcilerOption {
	return func(r *Reconciler) {
		if inv != nil {
			r.reports = inv
		}
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReconciler(store Store, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("billing: Store is required")
	}
	r := &Reconciler{
		store:    store,
		notifier: nopNotifier{},
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("billing.reconciler"))
	return r
}

// effect collects what happened inside the event transaction so metrics and
// notifications run only after commit.
type effect struct {
	sub       *Subscription
	from, to  Status
	notify    NotificationKind
	amount    Money
	reason    string
	skipped   string
	orphanRef string // gateway subscription to cancel after commit
}

// Handle applies evt for the tenant. Unknown, malformed or unmatched events
// are acknowledged with OutcomeIgnored and a nil error; only storage failures
// are returned so the gateway redelivers.
func (r *Reconciler) Handle(ctx context.Context, tenantID uuid.UUID, evt *gateway.Event) (outcome Outcome, err error) {
	start := time.Now()
	provider, typ := "", string(gateway.EventUnknown)
	if evt != nil {
		provider, typ = string(evt.Provider), string(evt.Type)
	}
	defer func() {
		WebhookEventsTotal.WithLabelValues(provider, typ, string(outcome)).Inc()
		WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}()

	if evt == nil || evt.ID == "" {
		r.log.WarnContext(ctx, "gateway event ignored", logger.TenantID(tenantID), logger.Error(fmt.Errorf("%w: missing event id", ErrEventIgnored)))
		return OutcomeIgnored, nil
	}

	log := r.log.With(
		logger.TenantID(tenantID),
		logger.Provider(provider),
		logger.EventID(evt.ID),
		logger.EventType(evt.RawType),
	)

	if evt.Type == gateway.EventUnknown {
		log.WarnContext(ctx, "gateway event ignored", logger.Error(fmt.Errorf("%w: unhandled event type", ErrEventIgnored)))
		return OutcomeIgnored, nil
	}

	var eff effect
	applied, err := r.store.ApplyEvent(ctx, ProcessedEvent{
		TenantID:    tenantID,
		Provider:    provider,
		EventID:     evt.ID,
		EventType:   evt.RawType,
		ProcessedAt: r.now(),
	}, func(tx EventTx) error {
		sub, err := r.lookup(ctx, tx, tenantID, evt)
		if err != nil {
			return err
		}
		eff = effect{sub: sub, from: sub.Status, to: sub.Status}

		switch evt.Type {
		case gateway.EventCheckoutCompleted:
			err = r.checkoutCompleted(ctx, tx, evt, &eff)
		case gateway.EventInvoicePaid:
			err = r.invoicePaid(ctx, tx, evt, &eff)
		case gateway.EventInvoicePaymentFailed:
			err = r.invoicePaymentFailed(ctx, tx, evt, &eff)
		case gateway.EventSubscriptionUpdated:
			err = r.subscriptionUpdated(ctx, evt, &eff)
		case gateway.EventSubscriptionDeleted:
			err = r.subscriptionDeleted(ctx, evt, &eff)
		}
		if err != nil {
			return err
		}
		return tx.SaveSubscription(ctx, eff.sub)
	})

	switch {
	case errors.Is(err, ErrEventIgnored):
		log.WarnContext(ctx, "gateway event ignored", logger.Error(err))
		return OutcomeIgnored, nil
	case err != nil:
		log.ErrorContext(ctx, "failed to apply gateway event", logger.Error(err))
		return OutcomeError, err
	case !applied:
		log.InfoContext(ctx, "gateway event already processed")
		return OutcomeDuplicate, nil
	}

	log = log.With(logger.SubscriptionID(eff.sub.ID))
	if eff.skipped != "" {
		log.WarnContext(ctx, "status transition skipped", logger.Status(string(eff.from), eff.skipped))
	}
	if eff.from != eff.to {
		TransitionsTotal.WithLabelValues(string(eff.from), string(eff.to)).Inc()
		log.InfoContext(ctx, "subscription status changed", logger.Status(string(eff.from), string(eff.to)))
	} else {
		log.InfoContext(ctx, "gateway event applied")
	}

	if r.reports != nil {
		r.reports.Invalidate(ctx, tenantID)
	}
	if eff.orphanRef != "" {
		r.cancelOrphan(ctx, log, tenantID, eff.orphanRef)
	}
	if eff.notify != "" {
		notifyAbout(ctx, log, r.store, r.notifier, eff.sub, eff.notify, eff.amount, eff.reason)
	}
	return OutcomeApplied, nil
}

// lookup finds the subscription by the id stamped into checkout metadata,
// falling back to the gateway subscription reference.
func (r *Reconciler) lookup(ctx context.Context, tx EventTx, tenantID uuid.UUID, evt *gateway.Event) (*Subscription, error) {
	if id, ok := evt.LocalSubscriptionID(); ok {
		sub, err := tx.LockSubscription(ctx, tenantID, id)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if evt.SubscriptionRef != "" {
		sub, err := tx.LockSubscriptionByRef(ctx, tenantID, evt.SubscriptionRef)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no subscription matches event (ref %q)", ErrEventIgnored, evt.SubscriptionRef)
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, tx EventTx, evt *gateway.Event, eff *effect) error {
	sub := eff.sub
	attachRefs(sub, evt)

	if sub.Status.IsTerminal() {
		// Paid through a checkout link after the operator canceled.
		r.orphaned(eff, evt)
		return nil
	}
	if sub.Status != StatusIncomplete {
		return nil
	}

	plan, err := tx.GetPlan(ctx, sub.TenantID, sub.PlanID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	trialDays := 0
	if plan != nil {
		trialDays = plan.TrialDays
	}

	if _, err := r.fire(ctx, eff, EventCheckoutCompleted, Trigger{TrialDays: trialDays}); err != nil {
		return err
	}

	periodStart := firstTime(evt.PeriodStart, evt.OccurredAt, r.now())
	periodEnd := evt.PeriodEnd
	if periodEnd.IsZero() && sub.Status == StatusTrialing {
		periodEnd = periodStart.AddDate(0, 0, trialDays)
	}
	setPeriod(sub, periodStart, periodEnd)
	return nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, tx EventTx, evt *gateway.Event, eff *effect) error {
	sub := eff.sub
	attachRefs(sub, evt)
	inv := invoiceOf(evt)

	inserted, err := tx.AppendPayment(ctx, &Payment{
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Amount:           Money{Amount: inv.Amount, Currency: currencyOr(inv.Currency)},
		Status:           PaymentPaid,
		PaidAt:           timePtr(firstTime(inv.PaidAt, evt.OccurredAt, r.now())),
		ReceiptURL:       inv.ReceiptURL,
		InvoiceRef:       inv.ID,
		PaymentIntentRef: inv.PaymentIntentRef,
	})
	if err != nil {
		return err
	}

	if sub.Status.IsTerminal() {
		if inv.Amount > 0 {
			r.orphaned(eff, evt)
		}
	} else {
		tr := Trigger{Amount: inv.Amount}
		// A missed checkout event on a trial plan: the opening invoice is free.
		if sub.Status == StatusIncomplete && inv.Amount == 0 {
			plan, err := tx.GetPlan(ctx, sub.TenantID, sub.PlanID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if plan != nil {
				tr.TrialDays = plan.TrialDays
			}
		}
		if _, err := r.fire(ctx, eff, EventInvoicePaid, tr); err != nil {
			return err
		}
		setPeriod(sub, evt.PeriodStart, evt.PeriodEnd)
	}

	if inserted && inv.Amount > 0 {
		eff.notify = NotifyPaymentConfirmed
		eff.amount = Money{Amount: inv.Amount, Currency: currencyOr(inv.Currency)}
	}
	return nil
}

func (r *Reconciler) invoicePaymentFailed(ctx context.Context, tx EventTx, evt *gateway.Event, eff *effect) error {
	sub := eff.sub
	attachRefs(sub, evt)
	inv := invoiceOf(evt)

	reason := inv.FailureReason
	if reason == "" {
		reason = defaultFailureReason
	}

	inserted, err := tx.AppendPayment(ctx, &Payment{
		SubscriptionID:   sub.ID,
		TenantID:         sub.TenantID,
		Amount:           Money{Amount: inv.Amount, Currency: currencyOr(inv.Currency)},
		Status:           PaymentFailed,
		FailedAt:         timePtr(firstTime(evt.OccurredAt, r.now())),
		FailureReason:    reason,
		InvoiceRef:       inv.ID,
		PaymentIntentRef: inv.PaymentIntentRef,
	})
	if err != nil {
		return err
	}

	if _, err := r.fire(ctx, eff, EventPaymentFailed, Trigger{Amount: inv.Amount}); err != nil {
		return err
	}

	if inserted {
		eff.notify = NotifyPaymentFailed
		eff.reason = reason
	}
	return nil
}

func (r *Reconciler) subscriptionUpdated(ctx context.Context, evt *gateway.Event, eff *effect) error {
	sub := eff.sub
	attachRefs(sub, evt)

	target, ok := statusFromGateway(evt.Status)
	if !ok {
		eff.skipped = "gateway:" + string(evt.Status)
		return nil
	}
	if target != sub.Status {
		changed, err := r.fire(ctx, eff, EventStatusChanged, Trigger{Target: target})
		if err != nil {
			return err
		}
		if !changed {
			eff.skipped = string(target)
			return nil
		}
	}
	if !sub.Status.IsTerminal() {
		setPeriod(sub, evt.PeriodStart, evt.PeriodEnd)
	}
	return nil
}

func (r *Reconciler) subscriptionDeleted(ctx context.Context, evt *gateway.Event, eff *effect) error {
	sub := eff.sub
	attachRefs(sub, evt)

	changed, err := r.fire(ctx, eff, EventUpstreamDeleted, Trigger{PaymentExhausted: evt.PaymentExhausted})
	if err != nil || !changed {
		return err
	}
	if reason := strings.TrimSpace(evt.CancelReason); reason != "" {
		sub.CancelReason = truncate(reason, MaxCancelReasonLength)
	}
	eff.notify = NotifySubscriptionCanceled
	eff.reason = sub.CancelReason
	return nil
}

// fire advances eff.sub through the lifecycle table.
func (r *Reconciler) fire(ctx context.Context, eff *effect, ev statemachine.Event, tr Trigger) (bool, error) {
	tr.At = r.now()
	changed, err := advance(ctx, eff.sub, ev, tr)
	if changed {
		eff.to = eff.sub.Status
	}
	return changed, err
}

// orphaned marks the gateway subscription behind evt for cancellation: the
// local subscription has ended, so the client must not be charged again.
func (r *Reconciler) orphaned(eff *effect, evt *gateway.Event) {
	eff.orphanRef = cmp.Or(evt.SubscriptionRef, eff.sub.SubscriptionRef)
}

func (r *Reconciler) cancelOrphan(ctx context.Context, log *slog.Logger, tenantID uuid.UUID, ref string) {
	if r.gateways == nil {
		log.WarnContext(ctx, "gateway subscription left running on ended subscription, cancel it manually",
			logger.GatewayRef(ref))
		return
	}
	BestEffort(ctx, log, "gateway_cancel_orphan", func(ctx context.Context) error {
		gw, err := r.gateways.Resolve(ctx, tenantID)
		if err != nil {
			return err
		}
		err = gw.CancelSubscription(ctx, ref)
		if errors.Is(err, gateway.ErrSubscriptionNotFound) {
			return nil
		}
		return err
	}, logger.GatewayRef(ref))
}

func attachRefs(sub *Subscription, evt *gateway.Event) {
	if sub.SubscriptionRef == "" && evt.SubscriptionRef != "" {
		sub.SubscriptionRef = evt.SubscriptionRef
	}
	if sub.CustomerRef == "" && evt.CustomerRef != "" {
		sub.CustomerRef = evt.CustomerRef
	}
}

func invoiceOf(evt *gateway.Event) gateway.Invoice {
	if evt.Invoice == nil {
		return gateway.Invoice{}
	}
	return *evt.Invoice
}

func setPeriod(sub *Subscription, start, end time.Time) {
	if !start.IsZero() {
		sub.CurrentPeriodStart = timePtr(start)
	}
	if !end.IsZero() {
		sub.CurrentPeriodEnd = timePtr(end)
	}
}

func firstTime(ts ...time.Time) time.Time {
	for _, t := range ts {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func currencyOr(c string) string {
	if c == "" {
		return DefaultCurrency
	}
	return strings.ToLower(c)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
