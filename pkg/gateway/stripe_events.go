package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
)

var stripeEventTypes = map[string]EventType{
	"checkout.session.completed":    EventCheckoutCompleted,
	"invoice.paid":                  EventInvoicePaid,
	"invoice.payment_failed":        EventInvoicePaymentFailed,
	"customer.subscription.updated": EventSubscriptionUpdated,
	"customer.subscription.deleted": EventSubscriptionDeleted,
}

// stripeRef decodes a Stripe reference that may be either an id string or an
// expanded object.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*r = stripeRef(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*r = stripeRef(obj.ID)
	return nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Customer          stripeRef         `json:"customer"`
	Subscription      stripeRef         `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripePeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type stripeInvoice struct {
	ID               string            `json:"id"`
	Customer         stripeRef         `json:"customer"`
	Subscription     stripeRef         `json:"subscription"`
	Metadata         map[string]string `json:"metadata"`
	AmountPaid       int64             `json:"amount_paid"`
	AmountDue        int64             `json:"amount_due"`
	Total            int64             `json:"total"`
	Currency         string            `json:"currency"`
	HostedInvoiceURL string            `json:"hosted_invoice_url"`
	PaymentIntent    stripeRef         `json:"payment_intent"`
	PeriodStart      int64             `json:"period_start"`
	PeriodEnd        int64             `json:"period_end"`
	Parent           *struct {
		PaymentIntent       stripeRef `json:"payment_intent"`
		SubscriptionDetails *struct {
			Subscription stripeRef         `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines *struct {
		Data []struct {
			Period stripePeriod `json:"period"`
		} `json:"data"`
	} `json:"lines"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	LastFinalizationError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Customer           stripeRef         `json:"customer"`
	Status             string            `json:"status"`
	Metadata           map[string]string `json:"metadata"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Items              *struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	CancellationDetails *struct {
		Reason  string `json:"reason"`
		Comment string `json:"comment"`
	} `json:"cancellation_details"`
}

func decodeStripeEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:         evt.ID,
		Provider:   ProviderStripe,
		RawType:    string(evt.Type),
		Type:       EventUnknown,
		OccurredAt: unixTime(evt.Created),
	}
	typ, ok := stripeEventTypes[string(evt.Type)]
	if !ok {
		return out, nil
	}
	out.Type = typ

	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no data object", ErrMalformedEvent, evt.Type)
	}

	var err error
	switch typ {
	case EventCheckoutCompleted:
		err = decodeStripeCheckout(evt.Data.Raw, out)
	case EventInvoicePaid, EventInvoicePaymentFailed:
		err = decodeStripeInvoice(evt.Data.Raw, out)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		err = decodeStripeSubscription(evt.Data.Raw, out)
	}
	if err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	return out, nil
}

func decodeStripeCheckout(raw json.RawMessage, out *Event) error {
	var cs stripeCheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return err
	}
	out.SubscriptionRef = string(cs.Subscription)
	out.CustomerRef = string(cs.Customer)
	out.Metadata = mergeMetadata(cs.Metadata)
	if _, ok := out.Metadata[MetaSubscriptionID]; !ok && cs.ClientReferenceID != "" {
		out.Metadata[MetaSubscriptionID] = cs.ClientReferenceID
	}
	return nil
}

func decodeStripeInvoice(raw json.RawMessage, out *Event) error {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	// Newer API versions moved the subscription under parent.subscription_details.
	subRef := string(inv.Subscription)
	piRef := string(inv.PaymentIntent)
	var subMeta map[string]string
	if inv.Parent != nil {
		if inv.Parent.SubscriptionDetails != nil {
			if ref := string(inv.Parent.SubscriptionDetails.Subscription); ref != "" {
				subRef = ref
			}
			subMeta = inv.Parent.SubscriptionDetails.Metadata
		}
		if piRef == "" {
			piRef = string(inv.Parent.PaymentIntent)
		}
	}

	out.SubscriptionRef = subRef
	out.CustomerRef = string(inv.Customer)
	out.Metadata = mergeMetadata(inv.Metadata, subMeta)

	out.PeriodStart, out.PeriodEnd = unixTime(inv.PeriodStart), unixTime(inv.PeriodEnd)
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.End > 0 {
		p := inv.Lines.Data[0].Period
		out.PeriodStart, out.PeriodEnd = unixTime(p.Start), unixTime(p.End)
	}

	invoice := &Invoice{
		ID:               inv.ID,
		PaymentIntentRef: piRef,
		Currency:         strings.ToLower(inv.Currency),
		ReceiptURL:       inv.HostedInvoiceURL,
		PaidAt:           unixTime(inv.StatusTransitions.PaidAt),
	}
	if out.Type == EventInvoicePaid {
		invoice.Amount = firstPositive(inv.AmountPaid, inv.Total)
	} else {
		invoice.Amount = firstPositive(inv.AmountDue, inv.Total)
		if e := inv.LastFinalizationError; e != nil {
			invoice.FailureReason = e.Message
			if invoice.FailureReason == "" {
				invoice.FailureReason = e.Code
			}
		}
	}
	out.Invoice = invoice
	return nil
}

func decodeStripeSubscription(raw json.RawMessage, out *Event) error {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	out.SubscriptionRef = sub.ID
	out.CustomerRef = string(sub.Customer)
	out.Metadata = mergeMetadata(sub.Metadata)
	out.Status = stripeStatus(sub.Status)

	start, end := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	if start == 0 && sub.Items != nil && len(sub.Items.Data) > 0 {
		start, end = sub.Items.Data[0].CurrentPeriodStart, sub.Items.Data[0].CurrentPeriodEnd
	}
	out.PeriodStart, out.PeriodEnd = unixTime(start), unixTime(end)

	if d := sub.CancellationDetails; d != nil {
		out.CancelReason = d.Reason
		if d.Comment != "" {
			out.CancelReason = d.Comment
		}
		out.PaymentExhausted = d.Reason == "payment_failed"
	}
	if out.Status == StatusUnpaid {
		out.PaymentExhausted = true
	}
	return nil
}

func stripeStatus(s string) SubscriptionStatus {
	switch s {
	case "incomplete_expired":
		return StatusCanceled
	default:
		return SubscriptionStatus(s)
	}
}

func mergeMetadata(sources ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, src := range sources {
		for k, v := range src {
			if v != "" {
				out[k] = v
			}
		}
	}
	return out
}

func firstPositive(vals ...int64) int64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
