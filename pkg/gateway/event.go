package gateway

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the provider-neutral kind of a webhook notification.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventSubscriptionDeleted  EventType = "subscription.deleted"
	EventUnknown              EventType = "unknown"
)

// SubscriptionStatus is the processor-side status carried by subscription
// events, normalized to lowercase snake case.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusCanceled   SubscriptionStatus = "canceled"
	StatusUnpaid     SubscriptionStatus = "unpaid"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusTrialing   SubscriptionStatus = "trialing"
)

// Event is a verified webhook notification decoded into the fields the
// reconciler needs. Fields that do not apply to Type are left zero.
type Event struct {
	ID         string
	Provider   Provider
	Type       EventType
	RawType    string
	OccurredAt time.Time

	SubscriptionRef string
	CustomerRef     string
	Metadata        map[string]string

	Status      SubscriptionStatus
	PeriodStart time.Time
	PeriodEnd   time.Time

	Invoice *Invoice

	CancelReason string
	// PaymentExhausted is set on deletions caused by exhausted payment retries.
	PaymentExhausted bool
}

// Invoice describes a billed period on invoice.* events.
type Invoice struct {
	ID               string
	PaymentIntentRef string
	Amount           int64
	Currency         string
	ReceiptURL       string
	FailureReason    string
	PaidAt           time.Time
}

// LocalSubscriptionID returns the subscription id stamped into checkout
// metadata, if present and well formed.
func (e *Event) LocalSubscriptionID() (uuid.UUID, bool) {
	raw, ok := e.Metadata[MetaSubscriptionID]
	if !ok || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
