package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleSignatureHeader carries the webhook signature on Paddle deliveries.
const PaddleSignatureHeader = "Paddle-Signature"

type PaddleConfig struct {
	APIKey        string
	WebhookSecret string
	Sandbox       bool
	Timeout       time.Duration
}

// Paddle is a Gateway bound to one tenant's Paddle Billing account.
type Paddle struct {
	sdk      *paddle.SDK
	verifier *paddle.WebhookVerifier
	timeout  time.Duration
}

var _ Gateway = (*Paddle)(nil)

func NewPaddle(cfg PaddleConfig) (*Paddle, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	var (
		sdk *paddle.SDK
		err error
	)
	if cfg.Sandbox {
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	} else {
		sdk, err = paddle.New(cfg.APIKey)
	}
	if err != nil {
		return nil, errors.Join(ErrMissingCredentials, err)
	}

	p := &Paddle{sdk: sdk, timeout: cfg.Timeout}
	if cfg.WebhookSecret != "" {
		p.verifier = paddle.NewWebhookVerifier(cfg.WebhookSecret)
	}
	return p, nil
}

func (p *Paddle) Provider() Provider { return ProviderPaddle }

// FindOrCreateCustomer requires an email: Paddle customers are keyed by it.
func (p *Paddle) FindOrCreateCustomer(ctx context.Context, params CustomerParams) (ref string, err error) {
	const op = "find_or_create_customer"
	defer func(start time.Time) { observe(ProviderPaddle, op, start, err) }(time.Now())

	if params.Email == "" {
		return "", wrapErr(ProviderPaddle, op, ErrMissingCustomerEmail, false)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.sdk.CustomersClient.ListCustomers(ctx, &paddle.ListCustomersRequest{
		Email: []string{params.Email},
	})
	if err != nil {
		return "", paddleErr(op, err)
	}
	err = res.Iter(ctx, func(c *paddle.Customer) (bool, error) {
		ref = c.ID
		return false, nil
	})
	if err != nil {
		return "", paddleErr(op, err)
	}
	if ref != "" {
		return ref, nil
	}

	c, err := p.sdk.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: params.Email,
		Name:  paddle.PtrTo(params.Name),
		CustomData: paddle.CustomData{
			MetaTenantID: params.TenantID.String(),
			MetaClientID: params.ClientID.String(),
		},
	})
	if err != nil {
		return "", paddleErr(op, err)
	}
	return c.ID, nil
}

// CreateCheckoutSession opens a draft transaction whose checkout URL is the
// hosted payment page. Paddle has no separate cancel URL.
func (p *Paddle) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (sess *CheckoutSession, err error) {
	const op = "create_checkout_session"
	defer func(start time.Time) { observe(ProviderPaddle, op, start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceRef,
		Quantity: 1,
	})
	custom := paddle.CustomData{}
	for k, v := range params.Metadata {
		custom[k] = v
	}

	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomerID: paddle.PtrTo(params.CustomerRef),
		CustomData: custom,
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.SuccessURL)}
	}

	txn, err := p.sdk.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, paddleErr(op, err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, wrapErr(ProviderPaddle, op, ErrNoCheckoutURL, false)
	}

	return &CheckoutSession{
		ID:  txn.ID,
		URL: *txn.Checkout.URL,
		// Draft transactions stay payable for a day.
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

func (p *Paddle) CancelSubscription(ctx context.Context, ref string) (err error) {
	const op = "cancel_subscription"
	defer func(start time.Time) { observe(ProviderPaddle, op, start, err) }(time.Now())

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err = p.sdk.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: ref,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromImmediately),
	})
	if err != nil {
		return paddleErr(op, err)
	}
	return nil
}

// SyncPlan is not offered for Paddle; prices are managed in the Paddle
// dashboard and their ids entered on the plan.
func (p *Paddle) SyncPlan(context.Context, PlanParams) (*PlanRefs, error) {
	return nil, wrapErr(ProviderPaddle, "sync_plan", ErrUnsupported, false)
}

func (p *Paddle) ParseEvent(ctx context.Context, payload []byte, header http.Header) (*Event, error) {
	if p.verifier == nil || header.Get(PaddleSignatureHeader) == "" {
		return nil, ErrInvalidSignature
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	req.Header.Set(PaddleSignatureHeader, header.Get(PaddleSignatureHeader))

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	return decodePaddleEvent(payload)
}

// Paddle errors carry no HTTP status, so only transport failures are retryable.
func paddleErr(op string, err error) error {
	return wrapErr(ProviderPaddle, op, err, transient(err))
}
