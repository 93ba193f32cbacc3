package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists plans, clients, subscriptions and payments. Every method is
// scoped by tenant; records of another tenant are reported as ErrNotFound.
type Store interface {
	GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*Plan, error)
	SetPlanRefs(ctx context.Context, tenantID, planID uuid.UUID, productRef, priceRef string) error
	GetClient(ctx context.Context, tenantID, clientID uuid.UUID) (*Client, error)

	// CreateSubscription inserts sub atomically with the open-subscription
	// check. Returns *DuplicateActiveSubscriptionError when the client already
	// has an open subscription to the plan.
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	FindOpenSubscription(ctx context.Context, tenantID, clientID, planID uuid.UUID) (*Subscription, error)
	// ListSubscriptions returns matches newest first.
	ListSubscriptions(ctx context.Context, tenantID uuid.UUID, filter ListFilter) ([]Subscription, error)
	// ListPayments returns payments newest first. limit <= 0 means all.
	ListPayments(ctx context.Context, tenantID, subscriptionID uuid.UUID, limit int) ([]Payment, error)

	// UpdateSubscription locks the subscription, passes a copy to fn and
	// saves it when fn returns nil. fn must not call back into the store.
	UpdateSubscription(ctx context.Context, tenantID, id uuid.UUID, fn func(sub *Subscription) error) (*Subscription, error)

	// ApplyEvent runs fn in one transaction that also records evt as
	// processed. It returns false without calling fn when evt was already
	// processed. An error from fn rolls everything back.
	ApplyEvent(ctx context.Context, evt ProcessedEvent, fn func(tx EventTx) error) (bool, error)

	ReportStore
}

// EventTx is the write surface available while applying a gateway event.
type EventTx interface {
	GetPlan(ctx context.Context, tenantID, planID uuid.UUID) (*Plan, error)
	LockSubscription(ctx context.Context, tenantID, id uuid.UUID) (*Subscription, error)
	LockSubscriptionByRef(ctx context.Context, tenantID uuid.UUID, ref string) (*Subscription, error)
	SaveSubscription(ctx context.Context, sub *Subscription) error
	// AppendPayment inserts p unless a payment with the same subscription,
	// invoice and status exists. Reports whether a row was inserted.
	AppendPayment(ctx context.Context, p *Payment) (bool, error)
}

// ReportStore provides the aggregates behind Reporter.
type ReportStore interface {
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[Status]int, error)
	CountCanceledBetween(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (int, error)
	// ListPaidPayments returns paid payments with paid-at in [from, to).
	ListPaidPayments(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]Payment, error)
	// ListActivePrices returns the plan price of every ACTIVE subscription.
	ListActivePrices(ctx context.Context, tenantID uuid.UUID) ([]PlanPrice, error)
	ListDelinquent(ctx context.Context, tenantID uuid.UUID) ([]Delinquent, error)
}

// PlanPrice is one ACTIVE subscription's recurring price.
type PlanPrice struct {
	Amount   int64
	Interval Interval
}

// Delinquent is a PAST_DUE subscription with the contact details needed to
// chase it.
type Delinquent struct {
	SubscriptionID   uuid.UUID  `json:"subscriptionId"`
	ClientID         uuid.UUID  `json:"clientId"`
	ClientName       string     `json:"clientName"`
	ClientEmail      string     `json:"clientEmail,omitempty"`
	ClientPhone      string     `json:"clientPhone,omitempty"`
	PlanName         string     `json:"planName"`
	Price            Money      `json:"price"`
	Interval         Interval   `json:"interval"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
	PastDueSince     time.Time  `json:"pastDueSince"`
}
