package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/a-h/templ"
	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/email"
	"github.com/dmitrymomot/lexbilling/pkg/email/templates"
)

// NotificationKind selects the tenant-admin email sent after a billing event.
type NotificationKind string

const (
	NotifyPaymentConfirmed     NotificationKind = "payment_confirmed"
	NotifyPaymentFailed        NotificationKind = "payment_failed"
	NotifySubscriptionCanceled NotificationKind = "subscription_canceled"
)

type Notification struct {
	Kind       NotificationKind
	TenantID   uuid.UUID
	ClientName string
	PlanName   string
	Amount     Money
	Reason     string
}

// Notifier informs the tenant's staff about billing events.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// RecipientStore resolves where a tenant wants billing notifications sent.
type RecipientStore interface {
	NotificationEmail(ctx context.Context, tenantID uuid.UUID) (string, error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) error { return nil }

// ErrNoRecipient is returned when the tenant has no notification address.
var ErrNoRecipient = errors.New("tenant has no billing notification email")

// EmailNotifier renders notifications in Portuguese and sends them through an
// email.Sender.
type EmailNotifier struct {
	sender     email.Sender
	recipients RecipientStore
}

func NewEmailNotifier(sender email.Sender, recipients RecipientStore) *EmailNotifier {
	return &EmailNotifier{sender: sender, recipients: recipients}
}

var notificationTemplates = map[NotificationKind]struct {
	subject string
	body    func(templates.BillingParams) templ.Component
}{
	NotifyPaymentConfirmed:     {"Pagamento Confirmado", templates.PaymentConfirmed},
	NotifyPaymentFailed:        {"Falha no Pagamento", templates.PaymentFailed},
	NotifySubscriptionCanceled: {"Assinatura Cancelada", templates.SubscriptionCanceled},
}

func (n *EmailNotifier) Notify(ctx context.Context, msg Notification) error {
	tpl, ok := notificationTemplates[msg.Kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", msg.Kind)
	}

	to, err := n.recipients.NotificationEmail(ctx, msg.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNoRecipient
		}
		return err
	}

	body, err := templates.Render(ctx, tpl.body(templates.BillingParams{
		ClientName: msg.ClientName,
		PlanName:   msg.PlanName,
		Amount:     FormatBRL(msg.Amount.Amount),
		Reason:     msg.Reason,
	}))
	if err != nil {
		return err
	}

	return n.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   to,
		Subject:  tpl.subject + " - " + msg.ClientName,
		BodyHTML: body,
		Tag:      string(msg.Kind),
	})
}

// FormatBRL renders minor units as "R$ 1234,56".
func FormatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, cents/100, cents%100)
}
