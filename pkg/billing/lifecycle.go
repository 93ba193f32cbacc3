package billing

import (
	"context"
	"time"

	"github.com/dmitrymomot/lexbilling/pkg/statemachine"
)

// Lifecycle events. Each subscription status change is one of these fired
// against the lifecycle table.
const (
	EventCheckoutCompleted statemachine.StringEvent = "checkout_completed"
	EventInvoicePaid       statemachine.StringEvent = "invoice_paid"
	EventPaymentFailed     statemachine.StringEvent = "payment_failed"
	EventStatusChanged     statemachine.StringEvent = "status_changed"
	EventOperatorCancel    statemachine.StringEvent = "operator_cancel"
	EventUpstreamDeleted   statemachine.StringEvent = "upstream_deleted"
)

// Trigger is the data guards and actions see when a lifecycle event fires.
type Trigger struct {
	Sub              *Subscription
	Target           Status // status reported by the gateway, for EventStatusChanged
	Amount           int64  // invoice amount in minor units
	TrialDays        int
	PaymentExhausted bool
	At               time.Time
}

// statusEdges are the moves a gateway status report may cause.
var statusEdges = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusTrialing, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled},
	StatusPastDue:    {StatusActive, StatusUnpaid, StatusCanceled},
	StatusTrialing:   {StatusActive, StatusCanceled, StatusPastDue},
}

var allStatuses = []Status{
	StatusIncomplete, StatusActive, StatusPastDue, StatusTrialing, StatusCanceled, StatusUnpaid,
}

var lifecycle = statemachine.MustNewTable(lifecycleTransitions()...)

func lifecycleTransitions() []statemachine.Option {
	var opts []statemachine.Option
	add := func(from, to Status, ev statemachine.Event, guards ...statemachine.Guard) {
		opts = append(opts, statemachine.WithTransition(from, to, ev,
			statemachine.WithGuards(guards...),
			statemachine.WithAction(applyStatus),
		))
	}

	// Guarded branches first: the first passing candidate wins.
	add(StatusIncomplete, StatusTrialing, EventCheckoutCompleted, withTrial)
	add(StatusIncomplete, StatusActive, EventCheckoutCompleted)

	add(StatusIncomplete, StatusTrialing, EventInvoicePaid, withTrial, zeroAmount)
	add(StatusIncomplete, StatusActive, EventInvoicePaid)
	add(StatusPastDue, StatusActive, EventInvoicePaid)
	// The zero-amount invoice opening a trial does not end it.
	add(StatusTrialing, StatusActive, EventInvoicePaid, chargedAmount)

	add(StatusActive, StatusPastDue, EventPaymentFailed)
	add(StatusTrialing, StatusPastDue, EventPaymentFailed)

	for from, targets := range statusEdges {
		for _, to := range targets {
			add(from, to, EventStatusChanged, targetIs(to))
		}
	}

	for _, from := range OpenStatuses {
		add(from, StatusCanceled, EventOperatorCancel)
	}

	// The gateway is authoritative on deletion and may end any open
	// subscription, bypassing the operator table.
	for _, from := range allStatuses {
		add(from, StatusUnpaid, EventUpstreamDeleted, stillOpen, paymentExhausted)
		add(from, StatusCanceled, EventUpstreamDeleted, stillOpen)
	}
	return opts
}

// CanTransition reports whether a gateway status report may move a
// subscription from one status to another. Same-status moves are not
// transitions.
func CanTransition(from, to Status) bool {
	return lifecycle.Allows(context.Background(), from, EventStatusChanged, &Trigger{Target: to})
}

// advance fires ev for sub and reports whether its status changed. A refused
// event leaves sub untouched and is not an error.
func advance(ctx context.Context, sub *Subscription, ev statemachine.Event, tr Trigger) (bool, error) {
	tr.Sub = sub
	if err := lifecycle.New(sub.Status).Fire(ctx, ev, &tr); err != nil {
		if statemachine.IsRefused(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func triggerOf(data any) *Trigger {
	if tr, ok := data.(*Trigger); ok && tr != nil {
		return tr
	}
	return &Trigger{}
}

func withTrial(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return triggerOf(data).TrialDays > 0
}

func zeroAmount(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return triggerOf(data).Amount == 0
}

func chargedAmount(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return triggerOf(data).Amount > 0
}

func paymentExhausted(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	return triggerOf(data).PaymentExhausted
}

func stillOpen(_ context.Context, from statemachine.State, _ statemachine.Event, _ any) bool {
	s, ok := from.(Status)
	return ok && !s.IsTerminal()
}

func targetIs(to Status) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		return triggerOf(data).Target == to
	}
}

// applyStatus writes the new status onto the subscription and stamps the
// timestamps that belong to it.
func applyStatus(_ context.Context, from, to statemachine.State, _ statemachine.Event, data any) error {
	tr := triggerOf(data)
	sub := tr.Sub
	if sub == nil {
		return nil
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	target := to.(Status)
	switch {
	case target.IsTerminal():
		sub.CanceledAt = timePtr(at)
	case target == StatusPastDue:
		sub.PastDueAt = timePtr(at)
	case from.(Status) == StatusPastDue:
		sub.PastDueAt = nil
	}
	sub.Status = target
	return nil
}
