package gateway

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var paddleEventTypes = map[string]EventType{
	// A completed transaction both activates a new subscription and records a
	// renewal payment.
	"transaction.completed":      EventInvoicePaid,
	"transaction.payment_failed": EventInvoicePaymentFailed,
	"subscription.updated":       EventSubscriptionUpdated,
	"subscription.activated":     EventSubscriptionUpdated,
	"subscription.past_due":      EventSubscriptionUpdated,
	"subscription.trialing":      EventSubscriptionUpdated,
	"subscription.canceled":      EventSubscriptionDeleted,
}

type paddleEnvelope struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	OccurredAt string         `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

func decodePaddleEvent(payload []byte) (*Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if env.EventID == "" {
		return nil, errors.Join(ErrMalformedEvent, errors.New("missing event_id"))
	}

	out := &Event{
		ID:         env.EventID,
		Provider:   ProviderPaddle,
		RawType:    env.EventType,
		Type:       EventUnknown,
		OccurredAt: parseTime(env.OccurredAt),
	}
	typ, ok := paddleEventTypes[env.EventType]
	if !ok {
		return out, nil
	}
	out.Type = typ
	if env.Data == nil {
		return nil, errors.Join(ErrMalformedEvent, errors.New("missing data"))
	}

	d := env.Data
	out.CustomerRef = str(d, "customer_id")
	out.Metadata = customData(d)

	if strings.HasPrefix(env.EventType, "transaction.") {
		out.SubscriptionRef = str(d, "subscription_id")
		out.PeriodStart, out.PeriodEnd = period(d, "billing_period")

		inv := &Invoice{
			ID:       str(d, "id"),
			Currency: strings.ToLower(str(d, "currency_code")),
		}
		if details, ok := d["details"].(map[string]any); ok {
			if totals, ok := details["totals"].(map[string]any); ok {
				inv.Amount, _ = strconv.ParseInt(str(totals, "grand_total"), 10, 64)
			}
		}
		if payments, ok := d["payments"].([]any); ok && len(payments) > 0 {
			if pay, ok := payments[0].(map[string]any); ok {
				inv.PaymentIntentRef = str(pay, "payment_attempt_id")
				inv.FailureReason = str(pay, "error_code")
				inv.PaidAt = parseTime(str(pay, "captured_at"))
			}
		}
		out.Invoice = inv
		return out, nil
	}

	out.SubscriptionRef = str(d, "id")
	out.Status = SubscriptionStatus(str(d, "status"))
	out.PeriodStart, out.PeriodEnd = period(d, "current_billing_period")
	if typ == EventSubscriptionDeleted {
		if action, ok := d["scheduled_change"].(map[string]any); ok {
			out.CancelReason = str(action, "action")
		}
	}
	return out, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func customData(d map[string]any) map[string]string {
	out := make(map[string]string)
	raw, ok := d["custom_data"].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out[k] = s
		}
	}
	return out
}

func period(d map[string]any, key string) (time.Time, time.Time) {
	p, ok := d[key].(map[string]any)
	if !ok {
		return time.Time{}, time.Time{}
	}
	return parseTime(str(p, "starts_at")), parseTime(str(p, "ends_at"))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
