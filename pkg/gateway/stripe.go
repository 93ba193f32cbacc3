package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeSignatureHeader carries the webhook signature on Stripe deliveries.
const StripeSignatureHeader = "Stripe-Signature"

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint. Empty means api.stripe.com.
	BaseURL string
}

// Stripe is a Gateway bound to one tenant's Stripe account. Each instance
// owns its own backend, so tenants never share the package-level stripe.Key.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

var _ Gateway = (*Stripe)(nil)

// NewStripe builds a Stripe gateway. The SDK's automatic retries are disabled;
// callers decide whether to repeat based on Error.Retryable.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}

	return &Stripe{
		api:           client.New(cfg.SecretKey, stripe.NewBackendsWithConfig(bc)),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (s *Stripe) Provider() Provider { return ProviderStripe }

func (s *Stripe) FindOrCreateCustomer(ctx context.Context, p CustomerParams) (ref string, err error) {
	const op = "find_or_create_customer"
	defer func(start time.Time) { observe(ProviderStripe, op, start, err) }(time.Now())

	if p.Email != "" {
		lp := &stripe.CustomerListParams{Email: stripe.String(p.Email)}
		lp.Limit = stripe.Int64(1)
		lp.Context = ctx
		it := s.api.Customers.List(lp)
		if it.Next() {
			return it.Customer().ID, nil
		}
		if err := it.Err(); err != nil {
			return "", stripeErr(op, err)
		}
	}

	params := &stripe.CustomerParams{
		Name: stripe.String(p.Name),
		Metadata: map[string]string{
			MetaTenantID: p.TenantID.String(),
			MetaClientID: p.ClientID.String(),
		},
	}
	params.Context = ctx
	if p.Email != "" {
		params.Email = stripe.String(p.Email)
	}
	if p.Phone != "" {
		params.Phone = stripe.String(p.Phone)
	}

	c, err := s.api.Customers.New(params)
	if err != nil {
		return "", stripeErr(op, err)
	}
	return c.ID, nil
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (sess *CheckoutSession, err error) {
	const op = "create_checkout_session"
	defer func(start time.Time) { observe(ProviderStripe, op, start, err) }(time.Now())

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(p.CustomerRef),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceRef), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{},
	}
	params.Context = ctx
	if p.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(p.ClientReferenceID)
	}
	// Metadata goes on both the session and the subscription it creates, so
	// invoice and subscription events can be matched without a lookup.
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
		params.SubscriptionData.AddMetadata(k, v)
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeErr(op, err)
	}
	if cs.URL == "" {
		return nil, wrapErr(ProviderStripe, op, ErrNoCheckoutURL, false)
	}

	out := &CheckoutSession{ID: cs.ID, URL: cs.URL}
	if cs.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(cs.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, ref string) (err error) {
	const op = "cancel_subscription"
	defer func(start time.Time) { observe(ProviderStripe, op, start, err) }(time.Now())

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := s.api.Subscriptions.Cancel(ref, params); err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && (serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing) {
			return wrapErr(ProviderStripe, op, errors.Join(ErrSubscriptionNotFound, err), false)
		}
		return stripeErr(op, err)
	}
	return nil
}

func (s *Stripe) SyncPlan(ctx context.Context, p PlanParams) (refs *PlanRefs, err error) {
	const op = "sync_plan"
	defer func(start time.Time) { observe(ProviderStripe, op, start, err) }(time.Now())

	meta := map[string]string{
		MetaTenantID: p.TenantID.String(),
		MetaPlanID:   p.PlanID.String(),
	}

	productRef := p.ProductRef
	if productRef == "" {
		pp := &stripe.ProductParams{Name: stripe.String(p.Name), Metadata: meta}
		pp.Context = ctx
		if p.Description != "" {
			pp.Description = stripe.String(p.Description)
		}
		product, err := s.api.Products.New(pp)
		if err != nil {
			return nil, stripeErr(op, err)
		}
		productRef = product.ID
	}

	count := p.IntervalCount
	if count <= 0 {
		count = 1
	}
	pr := &stripe.PriceParams{
		Product:    stripe.String(productRef),
		Currency:   stripe.String(p.Currency),
		UnitAmount: stripe.Int64(p.Amount),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(p.Unit)),
			IntervalCount: stripe.Int64(count),
		},
		Metadata: meta,
	}
	pr.Context = ctx
	price, err := s.api.Prices.New(pr)
	if err != nil {
		return nil, stripeErr(op, err)
	}

	return &PlanRefs{ProductRef: productRef, PriceRef: price.ID}, nil
}

// ParseEvent verifies the Stripe-Signature header against the tenant's
// webhook secret and decodes the event.
func (s *Stripe) ParseEvent(_ context.Context, payload []byte, header http.Header) (*Event, error) {
	sig := header.Get(StripeSignatureHeader)
	if sig == "" || s.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}

	evt, err := webhook.ConstructEventWithOptions(payload, sig, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	return decodeStripeEvent(evt)
}

func stripeErr(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return wrapErr(ProviderStripe, op, err, retryableStatus(serr.HTTPStatusCode))
	}
	return wrapErr(ProviderStripe, op, err, transient(err))
}

func unixTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}
