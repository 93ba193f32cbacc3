package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
)

// fakeStripe answers the handful of Stripe endpoints the adapter calls.
type fakeStripe struct {
	existingCustomer string
	failCheckout     int
	cancelMissing    bool

	customersCreated atomic.Int32
	lastForm         atomic.Value
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.lastForm.Store(r.Form)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
		data := []map[string]any{}
		if f.existingCustomer != "" {
			data = append(data, map[string]any{"id": f.existingCustomer, "object": "customer"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "has_more": false, "url": "/v1/customers"})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/customers":
		f.customersCreated.Add(1)
		_, _ = w.Write([]byte(`{"id":"cus_new","object":"customer"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		if f.failCheckout != 0 {
			w.WriteHeader(f.failCheckout)
			_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"boom"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_1","expires_at":1700000000}`))
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/subscriptions/"):
		if f.cancelMissing {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"sub_1","object":"subscription","status":"canceled"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/products":
		_, _ = w.Write([]byte(`{"id":"prod_1","object":"product"}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/prices":
		_, _ = w.Write([]byte(`{"id":"price_1","object":"price"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"unexpected route"}}`))
	}
}

func (f *fakeStripe) form() url.Values {
	v, _ := f.lastForm.Load().(url.Values)
	return v
}

func newStripe(t *testing.T, f *fakeStripe) *gateway.Stripe {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	gw, err := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		Timeout:       2 * time.Second,
		BaseURL:       srv.URL,
	})
	require.NoError(t, err)
	return gw
}

func TestNewStripe_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := gateway.NewStripe(gateway.StripeConfig{})
	assert.ErrorIs(t, err, gateway.ErrMissingCredentials)
}

func TestStripe_FindOrCreateCustomer(t *testing.T) {
	t.Parallel()

	t.Run("reuses customer found by email", func(t *testing.T) {
		t.Parallel()
		f := &fakeStripe{existingCustomer: "cus_existing"}
		ref, err := newStripe(t, f).FindOrCreateCustomer(context.Background(), gateway.CustomerParams{
			TenantID: uuid.New(), ClientID: uuid.New(), Name: "Maria", Email: "maria@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "cus_existing", ref)
		assert.Zero(t, f.customersCreated.Load())
	})

	t.Run("creates customer when none matches", func(t *testing.T) {
		t.Parallel()
		f := &fakeStripe{}
		ref, err := newStripe(t, f).FindOrCreateCustomer(context.Background(), gateway.CustomerParams{
			TenantID: uuid.New(), ClientID: uuid.New(), Name: "Maria", Email: "maria@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "cus_new", ref)
		assert.EqualValues(t, 1, f.customersCreated.Load())
	})

	t.Run("creates by name when client has no email", func(t *testing.T) {
		t.Parallel()
		f := &fakeStripe{existingCustomer: "cus_existing"}
		tenantID, clientID := uuid.New(), uuid.New()
		ref, err := newStripe(t, f).FindOrCreateCustomer(context.Background(), gateway.CustomerParams{
			TenantID: tenantID, ClientID: clientID, Name: "João",
		})
		require.NoError(t, err)
		assert.Equal(t, "cus_new", ref)

		form := f.form()
		assert.Equal(t, []string{"João"}, form["name"])
		assert.Equal(t, []string{tenantID.String()}, form["metadata[tenantId]"])
		assert.Equal(t, []string{clientID.String()}, form["metadata[clientId]"])
		assert.NotContains(t, form, "email")
	})
}

func TestStripe_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		f := &fakeStripe{}
		before := testutil.ToFloat64(gateway.RequestsTotal.WithLabelValues("stripe", "create_checkout_session", "success"))

		subID := uuid.NewString()
		sess, err := newStripe(t, f).CreateCheckoutSession(context.Background(), gateway.CheckoutParams{
			CustomerRef:       "cus_1",
			PriceRef:          "price_1",
			SuccessURL:        "https://app.test/ok",
			CancelURL:         "https://app.test/cancel",
			ClientReferenceID: subID,
			Metadata:          map[string]string{gateway.MetaSubscriptionID: subID},
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", sess.ID)
		assert.Equal(t, "https://checkout.stripe.test/cs_1", sess.URL)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), sess.ExpiresAt)

		form := f.form()
		assert.Equal(t, []string{"subscription"}, form["mode"])
		assert.Equal(t, []string{"price_1"}, form["line_items[0][price]"])
		assert.Equal(t, []string{subID}, form["metadata[subscriptionId]"])
		assert.Equal(t, []string{subID}, form["subscription_data[metadata][subscriptionId]"])
		assert.Equal(t, []string{subID}, form["client_reference_id"])

		after := testutil.ToFloat64(gateway.RequestsTotal.WithLabelValues("stripe", "create_checkout_session", "success"))
		assert.Greater(t, after, before)
	})

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error is retryable", http.StatusInternalServerError, true},
		{"rate limit is retryable", http.StatusTooManyRequests, true},
		{"bad request is not retryable", http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := newStripe(t, &fakeStripe{failCheckout: tt.status}).CreateCheckoutSession(context.Background(), gateway.CheckoutParams{
				CustomerRef: "cus_1", PriceRef: "price_1",
			})
			require.Error(t, err)

			var gerr *gateway.Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, gateway.ProviderStripe, gerr.Provider)
			assert.Equal(t, "create_checkout_session", gerr.Op)
			assert.Equal(t, tt.retryable, gateway.IsRetryable(err))
		})
	}
}

func TestStripe_CancelSubscription(t *testing.T) {
	t.Parallel()

	require.NoError(t, newStripe(t, &fakeStripe{}).CancelSubscription(context.Background(), "sub_1"))

	err := newStripe(t, &fakeStripe{cancelMissing: true}).CancelSubscription(context.Background(), "sub_gone")
	assert.ErrorIs(t, err, gateway.ErrSubscriptionNotFound)
	assert.False(t, gateway.IsRetryable(err))
}

func TestStripe_SyncPlan(t *testing.T) {
	t.Parallel()
	f := &fakeStripe{}
	refs, err := newStripe(t, f).SyncPlan(context.Background(), gateway.PlanParams{
		PlanID: uuid.New(), TenantID: uuid.New(),
		Name: "Consultoria trimestral", Amount: 30000, Currency: "brl",
		Unit: gateway.IntervalMonth, IntervalCount: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, &gateway.PlanRefs{ProductRef: "prod_1", PriceRef: "price_1"}, refs)

	form := f.form()
	assert.Equal(t, []string{"prod_1"}, form["product"])
	assert.Equal(t, []string{"month"}, form["recurring[interval]"])
	assert.Equal(t, []string{"3"}, form["recurring[interval_count]"])
	assert.Equal(t, []string{"30000"}, form["unit_amount"])
}

func signStripe(t *testing.T, secret string, payload string) http.Header {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	h := http.Header{}
	h.Set(gateway.StripeSignatureHeader, signed.Header)
	return h
}

func TestStripe_ParseEvent(t *testing.T) {
	t.Parallel()
	gw := newStripe(t, &fakeStripe{})
	subID := uuid.NewString()

	t.Run("rejects bad signature", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{}}}`
		_, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_other", payload))
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

		_, err = gw.ParseEvent(context.Background(), []byte(payload), http.Header{})
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("checkout completed", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_cs","object":"event","type":"checkout.session.completed","created":1700000000,
			"data":{"object":{"id":"cs_1","object":"checkout.session","customer":"cus_1","subscription":"sub_1",
			"client_reference_id":"` + subID + `","metadata":{"subscriptionId":"` + subID + `"}}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		require.NoError(t, err)

		assert.Equal(t, "evt_cs", evt.ID)
		assert.Equal(t, gateway.EventCheckoutCompleted, evt.Type)
		assert.Equal(t, "sub_1", evt.SubscriptionRef)
		assert.Equal(t, "cus_1", evt.CustomerRef)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), evt.OccurredAt)
		id, ok := evt.LocalSubscriptionID()
		assert.True(t, ok)
		assert.Equal(t, subID, id.String())
	})

	t.Run("invoice paid with parent subscription details", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_inv","object":"event","type":"invoice.paid","data":{"object":{
			"id":"in_1","object":"invoice","amount_paid":15000,"total":15000,"currency":"BRL",
			"hosted_invoice_url":"https://invoice.stripe.test/in_1",
			"parent":{"subscription_details":{"subscription":"sub_1","metadata":{"subscriptionId":"` + subID + `"}}},
			"lines":{"data":[{"period":{"start":1700000000,"end":1702592000}}]},
			"status_transitions":{"paid_at":1700000100}}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		require.NoError(t, err)

		assert.Equal(t, gateway.EventInvoicePaid, evt.Type)
		assert.Equal(t, "sub_1", evt.SubscriptionRef)
		require.NotNil(t, evt.Invoice)
		assert.Equal(t, "in_1", evt.Invoice.ID)
		assert.EqualValues(t, 15000, evt.Invoice.Amount)
		assert.Equal(t, "brl", evt.Invoice.Currency)
		assert.Equal(t, "https://invoice.stripe.test/in_1", evt.Invoice.ReceiptURL)
		assert.Equal(t, time.Unix(1702592000, 0).UTC(), evt.PeriodEnd)
		_, ok := evt.LocalSubscriptionID()
		assert.True(t, ok)
	})

	t.Run("invoice payment failed on legacy payload", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_fail","object":"event","type":"invoice.payment_failed","data":{"object":{
			"id":"in_2","object":"invoice","subscription":"sub_1","amount_due":9900,"total":9900,
			"last_finalization_error":{"code":"card_declined","message":"Your card was declined."}}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		require.NoError(t, err)

		assert.Equal(t, gateway.EventInvoicePaymentFailed, evt.Type)
		assert.Equal(t, "sub_1", evt.SubscriptionRef)
		assert.EqualValues(t, 9900, evt.Invoice.Amount)
		assert.Equal(t, "Your card was declined.", evt.Invoice.FailureReason)
	})

	t.Run("subscription deleted after payment exhaustion", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_del","object":"event","type":"customer.subscription.deleted","data":{"object":{
			"id":"sub_1","object":"subscription","status":"canceled",
			"items":{"data":[{"current_period_start":1700000000,"current_period_end":1702592000}]},
			"cancellation_details":{"reason":"payment_failed"}}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		require.NoError(t, err)

		assert.Equal(t, gateway.EventSubscriptionDeleted, evt.Type)
		assert.Equal(t, gateway.StatusCanceled, evt.Status)
		assert.True(t, evt.PaymentExhausted)
		assert.Equal(t, "payment_failed", evt.CancelReason)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), evt.PeriodStart)
	})

	t.Run("unknown event type is decoded as unknown", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_x","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventUnknown, evt.Type)
		assert.Equal(t, "customer.created", evt.RawType)
	})

	t.Run("malformed data object", func(t *testing.T) {
		t.Parallel()
		payload := `{"id":"evt_bad","object":"event","type":"invoice.paid","data":{"object":{"amount_paid":"lots"}}}`
		_, err := gw.ParseEvent(context.Background(), []byte(payload), signStripe(t, "whsec_test", payload))
		assert.ErrorIs(t, err, gateway.ErrMalformedEvent)
	})
}
