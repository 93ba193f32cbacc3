package gateway_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
)

func signPaddle(secret, payload string) http.Header {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + ":" + payload))
	h := http.Header{}
	h.Set(gateway.PaddleSignatureHeader, "ts="+ts+";h1="+hex.EncodeToString(mac.Sum(nil)))
	return h
}

func newPaddle(t *testing.T) *gateway.Paddle {
	t.Helper()
	gw, err := gateway.NewPaddle(gateway.PaddleConfig{APIKey: "pdl_test_key", WebhookSecret: "pdl_whsec", Sandbox: true})
	require.NoError(t, err)
	return gw
}

func TestPaddle_CustomerRequiresEmail(t *testing.T) {
	t.Parallel()
	_, err := newPaddle(t).FindOrCreateCustomer(context.Background(), gateway.CustomerParams{Name: "Sem Email"})
	assert.ErrorIs(t, err, gateway.ErrMissingCustomerEmail)
	assert.False(t, gateway.IsRetryable(err))
}

func TestPaddle_SyncPlanUnsupported(t *testing.T) {
	t.Parallel()
	_, err := newPaddle(t).SyncPlan(context.Background(), gateway.PlanParams{})
	assert.ErrorIs(t, err, gateway.ErrUnsupported)
}

func TestPaddle_ParseEvent(t *testing.T) {
	t.Parallel()
	gw := newPaddle(t)
	subID := uuid.NewString()

	t.Run("rejects wrong secret", func(t *testing.T) {
		t.Parallel()
		payload := `{"event_id":"evt_1","event_type":"subscription.updated","data":{}}`
		_, err := gw.ParseEvent(context.Background(), []byte(payload), signPaddle("other", payload))
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("transaction completed maps to invoice paid", func(t *testing.T) {
		t.Parallel()
		payload := `{"event_id":"evt_txn","event_type":"transaction.completed","occurred_at":"2025-03-01T10:00:00Z",
			"data":{"id":"txn_1","subscription_id":"sub_p1","customer_id":"ctm_1","currency_code":"BRL",
			"custom_data":{"subscriptionId":"` + subID + `"},
			"details":{"totals":{"grand_total":"15000"}},
			"billing_period":{"starts_at":"2025-03-01T00:00:00Z","ends_at":"2025-04-01T00:00:00Z"}}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signPaddle("pdl_whsec", payload))
		require.NoError(t, err)

		assert.Equal(t, gateway.EventInvoicePaid, evt.Type)
		assert.Equal(t, gateway.ProviderPaddle, evt.Provider)
		assert.Equal(t, "sub_p1", evt.SubscriptionRef)
		require.NotNil(t, evt.Invoice)
		assert.Equal(t, "txn_1", evt.Invoice.ID)
		assert.EqualValues(t, 15000, evt.Invoice.Amount)
		assert.Equal(t, "brl", evt.Invoice.Currency)
		assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), evt.PeriodEnd)
		_, ok := evt.LocalSubscriptionID()
		assert.True(t, ok)
	})

	t.Run("subscription past due", func(t *testing.T) {
		t.Parallel()
		payload := `{"event_id":"evt_pd","event_type":"subscription.past_due","data":{"id":"sub_p1","status":"past_due"}}`
		evt, err := gw.ParseEvent(context.Background(), []byte(payload), signPaddle("pdl_whsec", payload))
		require.NoError(t, err)
		assert.Equal(t, gateway.EventSubscriptionUpdated, evt.Type)
		assert.Equal(t, gateway.StatusPastDue, evt.Status)
		assert.Equal(t, "sub_p1", evt.SubscriptionRef)
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		payload := `{"event_type":"subscription.updated"}`
		_, err := gw.ParseEvent(context.Background(), []byte(payload), signPaddle("pdl_whsec", payload))
		assert.ErrorIs(t, err, gateway.ErrMalformedEvent)
	})
}
