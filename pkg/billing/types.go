package billing

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCurrency is the only currency billed by the service.
const DefaultCurrency = "brl"

// Money is an amount in minor units (centavos).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Interval is a service plan's billing period.
type Interval string

const (
	IntervalMonthly   Interval = "MONTHLY"
	IntervalQuarterly Interval = "QUARTERLY"
	IntervalYearly    Interval = "YEARLY"
)

// Months returns the number of months in one billing period, or 0 for an
// unknown interval.
func (i Interval) Months() int64 {
	switch i {
	case IntervalMonthly:
		return 1
	case IntervalQuarterly:
		return 3
	case IntervalYearly:
		return 12
	default:
		return 0
	}
}

func (i Interval) Valid() bool { return i.Months() > 0 }

// Plan is a tenant's recurring service offering.
type Plan struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenantId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Price       Money     `json:"price"`
	Interval    Interval  `json:"interval"`
	TrialDays   int       `json:"trialDays"`
	Active      bool      `json:"active"`
	ProductRef  string    `json:"productRef,omitempty"`
	PriceRef    string    `json:"priceRef,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Synced reports whether the plan has a recurring price at the gateway.
func (p *Plan) Synced() bool { return p.PriceRef != "" }

// Client is an end client of the law firm.
type Client struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenantId"`
	Name     string    `json:"name"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
}

// Subscription is a client's subscription to a plan.
type Subscription struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenantId"`
	ClientID           uuid.UUID  `json:"clientId"`
	PlanID             uuid.UUID  `json:"servicePlanId"`
	CustomerRef        string     `json:"customerRef,omitempty"`
	SubscriptionRef    string     `json:"subscriptionRef,omitempty"`
	Status             Status     `json:"status"`
	CurrentPeriodStart *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"currentPeriodEnd,omitempty"`
	PastDueAt          *time.Time `json:"pastDueAt,omitempty"` // set on entering PAST_DUE
	CanceledAt         *time.Time `json:"canceledAt,omitempty"`
	CancelReason       string     `json:"cancelReason,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// PaymentStatus is the outcome of one billing attempt.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPending PaymentStatus = "pending"
)

// Payment is an append-only record of a billing attempt reported by the
// gateway.
type Payment struct {
	ID               uuid.UUID     `json:"id"`
	SubscriptionID   uuid.UUID     `json:"subscriptionId"`
	TenantID         uuid.UUID     `json:"tenantId"`
	Amount           Money         `json:"amount"`
	Status           PaymentStatus `json:"status"`
	PaidAt           *time.Time    `json:"paidAt,omitempty"`
	FailedAt         *time.Time    `json:"failedAt,omitempty"`
	FailureReason    string        `json:"failureReason,omitempty"`
	ReceiptURL       string        `json:"receiptUrl,omitempty"`
	InvoiceRef       string        `json:"invoiceRef,omitempty"`
	PaymentIntentRef string        `json:"paymentIntentRef,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// SubscriptionDetails is a subscription with the records it references.
type SubscriptionDetails struct {
	Subscription
	Plan     *Plan     `json:"servicePlan"`
	Client   *Client   `json:"client"`
	Payments []Payment `json:"payments"`
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Status   Status
	ClientID uuid.UUID
	PlanID   uuid.UUID
}

// ProcessedEvent marks a gateway event as applied.
type ProcessedEvent struct {
	TenantID    uuid.UUID
	Provider    string
	EventID     string
	EventType   string
	ProcessedAt time.Time
}

func timePtr(t time.Time) *time.Time { return &t }
