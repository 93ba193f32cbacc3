package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/statemachine"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		event   statemachine.Event
		trigger Trigger
		want    Status
		changed bool
	}{
		{"checkout with trial", StatusIncomplete, EventCheckoutCompleted, Trigger{TrialDays: 14}, StatusTrialing, true},
		{"checkout without trial", StatusIncomplete, EventCheckoutCompleted, Trigger{}, StatusActive, true},
		{"checkout replay", StatusActive, EventCheckoutCompleted, Trigger{}, StatusActive, false},

		{"free opening invoice on trial plan", StatusIncomplete, EventInvoicePaid, Trigger{TrialDays: 7}, StatusTrialing, true},
		{"charged opening invoice on trial plan", StatusIncomplete, EventInvoicePaid, Trigger{TrialDays: 7, Amount: 15000}, StatusActive, true},
		{"free invoice keeps trial", StatusTrialing, EventInvoicePaid, Trigger{}, StatusTrialing, false},
		{"charged invoice ends trial", StatusTrialing, EventInvoicePaid, Trigger{Amount: 15000}, StatusActive, true},
		{"payment recovers past due", StatusPastDue, EventInvoicePaid, Trigger{Amount: 15000}, StatusActive, true},
		{"payment on canceled", StatusCanceled, EventInvoicePaid, Trigger{Amount: 15000}, StatusCanceled, false},

		{"failure on active", StatusActive, EventPaymentFailed, Trigger{}, StatusPastDue, true},
		{"failure on trial", StatusTrialing, EventPaymentFailed, Trigger{}, StatusPastDue, true},
		{"failure on canceled", StatusCanceled, EventPaymentFailed, Trigger{}, StatusCanceled, false},

		{"status report follows edges", StatusPastDue, EventStatusChanged, Trigger{Target: StatusUnpaid}, StatusUnpaid, true},
		{"status report off the table", StatusActive, EventStatusChanged, Trigger{Target: StatusUnpaid}, StatusActive, false},

		{"operator cancels past due", StatusPastDue, EventOperatorCancel, Trigger{}, StatusCanceled, true},
		{"operator cannot cancel unpaid", StatusUnpaid, EventOperatorCancel, Trigger{}, StatusUnpaid, false},

		{"deletion forces unpaid off the table", StatusActive, EventUpstreamDeleted, Trigger{PaymentExhausted: true}, StatusUnpaid, true},
		{"deletion cancels trial", StatusTrialing, EventUpstreamDeleted, Trigger{}, StatusCanceled, true},
		{"deletion of ended subscription", StatusUnpaid, EventUpstreamDeleted, Trigger{}, StatusUnpaid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := &Subscription{Status: tt.from}

			changed, err := advance(context.Background(), sub, tt.event, tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.changed, changed)
			assert.Equal(t, tt.want, sub.Status)
		})
	}
}

func TestLifecycle_Timestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	at := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

	sub := &Subscription{Status: StatusActive}
	_, err := advance(ctx, sub, EventPaymentFailed, Trigger{At: at})
	require.NoError(t, err)
	require.NotNil(t, sub.PastDueAt)
	assert.Equal(t, at, *sub.PastDueAt)
	assert.Nil(t, sub.CanceledAt)

	_, err = advance(ctx, sub, EventInvoicePaid, Trigger{Amount: 15000, At: at.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Nil(t, sub.PastDueAt)

	_, err = advance(ctx, sub, EventOperatorCancel, Trigger{At: at.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.NotNil(t, sub.CanceledAt)
	assert.Equal(t, at.Add(2*time.Hour), *sub.CanceledAt)
}
