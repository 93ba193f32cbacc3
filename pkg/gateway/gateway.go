package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Provider names a supported payment processor.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPaddle Provider = "paddle"
)

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderPaddle
}

// Gateway is the narrow surface of a payment processor used by the billing
// core. Implementations are bound to a single tenant's credentials.
type Gateway interface {
	Provider() Provider

	// FindOrCreateCustomer returns the processor's customer reference for the
	// client, reusing an existing customer with the same email when present.
	FindOrCreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateCheckoutSession opens a hosted checkout for a recurring price.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// CancelSubscription cancels the processor-side subscription immediately.
	// Returns ErrSubscriptionNotFound when the processor no longer knows ref.
	CancelSubscription(ctx context.Context, ref string) error

	// SyncPlan creates a product (unless params.ProductRef is set) and a
	// recurring price for a service plan.
	SyncPlan(ctx context.Context, params PlanParams) (*PlanRefs, error)

	// ParseEvent verifies a webhook delivery and decodes it into an Event.
	ParseEvent(ctx context.Context, payload []byte, header http.Header) (*Event, error)
}

type CustomerParams struct {
	TenantID uuid.UUID
	ClientID uuid.UUID
	Name     string
	Email    string
	Phone    string
}

type CheckoutParams struct {
	CustomerRef string
	PriceRef    string
	SuccessURL  string
	CancelURL   string
	// ClientReferenceID is echoed back on completion events.
	ClientReferenceID string
	Metadata          map[string]string
}

type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// IntervalUnit is the recurring unit understood by processors.
type IntervalUnit string

const (
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

type PlanParams struct {
	PlanID        uuid.UUID
	TenantID      uuid.UUID
	ProductRef    string
	Name          string
	Description   string
	Amount        int64
	Currency      string
	Unit          IntervalUnit
	IntervalCount int64
}

type PlanRefs struct {
	ProductRef string
	PriceRef   string
}

// Metadata keys attached to checkout sessions and echoed back on events.
const (
	MetaSubscriptionID = "subscriptionId"
	MetaTenantID       = "tenantId"
	MetaClientID       = "clientId"
	MetaPlanID         = "planId"
)
