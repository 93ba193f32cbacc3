package logger

import (
	"log/slog"

	"github.com/google/uuid"
)

// Error records err under the key "error". Nil errors produce an empty Attr,
// which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TenantID(id uuid.UUID) slog.Attr {
	return slog.String("tenant_id", id.String())
}

func SubscriptionID(id uuid.UUID) slog.Attr {
	return slog.String("subscription_id", id.String())
}

func ClientID(id uuid.UUID) slog.Attr {
	return slog.String("client_id", id.String())
}

func PlanID(id uuid.UUID) slog.Attr {
	return slog.String("plan_id", id.String())
}

// Provider records the payment gateway name under the key "provider".
func Provider(name string) slog.Attr {
	return slog.String("provider", name)
}

// GatewayRef records an identifier issued by the payment gateway
// (customer, subscription, invoice) under the key "gateway_ref".
func GatewayRef(ref string) slog.Attr {
	return slog.String("gateway_ref", ref)
}

// EventID records a webhook event identifier under the key "event_id".
func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

// EventType records a webhook event type under the key "event_type".
func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// Status records a subscription status transition. An empty from value is
// omitted.
func Status(from, to string) slog.Attr {
	if from == "" {
		return slog.String("status", to)
	}
	return slog.Group("status", slog.String("from", from), slog.String("to", to))
}
