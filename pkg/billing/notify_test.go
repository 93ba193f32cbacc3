package billing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/email"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendEmail(ctx context.Context, p email.SendEmailParams) error {
	return m.Called(ctx, p).Error(0)
}

func TestEmailNotifier(t *testing.T) {
	t.Parallel()

	t.Run("payment confirmed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return p.SendTo == "admin@firm.example" &&
				p.Subject == "Pagamento Confirmado - Maria Silva" &&
				p.Tag == string(billing.NotifyPaymentConfirmed) &&
				assert.Contains(t, p.BodyHTML, "R$ 150,00") &&
				assert.Contains(t, p.BodyHTML, "Consultoria Mensal")
		})).Return(nil).Once()

		err := billing.NewEmailNotifier(sender, f.store).Notify(context.Background(), billing.Notification{
			Kind:       billing.NotifyPaymentConfirmed,
			TenantID:   f.tenantID,
			ClientName: "Maria Silva",
			PlanName:   "Consultoria Mensal",
			Amount:     billing.Money{Amount: 15000, Currency: "brl"},
		})
		require.NoError(t, err)
		sender.AssertExpectations(t)
	})

	t.Run("escapes client data", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		sender := &mockSender{}
		sender.On("SendEmail", mock.Anything, mock.MatchedBy(func(p email.SendEmailParams) bool {
			return assert.NotContains(t, p.BodyHTML, "<script>") &&
				assert.Contains(t, p.BodyHTML, "cartão recusado")
		})).Return(nil).Once()

		err := billing.NewEmailNotifier(sender, f.store).Notify(context.Background(), billing.Notification{
			Kind:       billing.NotifyPaymentFailed,
			TenantID:   f.tenantID,
			ClientName: "<script>alert(1)</script>",
			Reason:     "cartão recusado",
		})
		require.NoError(t, err)
	})

	t.Run("tenant without recipient", func(t *testing.T) {
		t.Parallel()
		err := billing.NewEmailNotifier(&mockSender{}, billing.NewMemoryStore()).Notify(context.Background(), billing.Notification{
			Kind:     billing.NotifySubscriptionCanceled,
			TenantID: uuid.New(),
		})
		assert.ErrorIs(t, err, billing.ErrNoRecipient)
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		err := billing.NewEmailNotifier(&mockSender{}, f.store).Notify(context.Background(), billing.Notification{
			Kind:     "welcome",
			TenantID: f.tenantID,
		})
		assert.Error(t, err)
	})
}

func TestFormatBRL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		cents int64
		want  string
	}{
		{0, "R$ 0,00"},
		{5, "R$ 0,05"},
		{15000, "R$ 150,00"},
		{123456, "R$ 1234,56"},
		{-250, "-R$ 2,50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, billing.FormatBRL(tt.cents))
	}
}

func TestBestEffort(t *testing.T) {
	t.Parallel()

	ok := billing.BestEffort(context.Background(), logger.Nop(), "noop", func(context.Context) error { return nil })
	assert.True(t, ok)

	ok = billing.BestEffort(context.Background(), logger.Nop(), "broken", func(context.Context) error {
		return errors.New("smtp timeout")
	}, logger.TenantID(uuid.New()))
	assert.False(t, ok)
}

func TestNotificationFailureDoesNotFailCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sub := f.addSubscription(t, billing.StatusIncomplete, "")
	notifier := &recordingNotifier{err: errors.New("postmark unavailable")}

	got, err := f.service(&mockGateway{}, billing.WithNotifier(notifier)).Cancel(context.Background(), f.tenantID, sub.ID, "")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, got.Status)
	assert.Len(t, notifier.Sent(), 1)
}
