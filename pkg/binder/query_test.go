package binder_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/binder"
)

func TestQuery(t *testing.T) {
	t.Parallel()
	type listRequest struct {
		Status   string     `query:"status"`
		ClientID *uuid.UUID `query:"clientId"`
		PlanID   uuid.UUID  `query:"servicePlanId"`
		Untagged string
	}

	t.Run("binds values", func(t *testing.T) {
		t.Parallel()
		clientID, planID := uuid.New(), uuid.New()
		req := httptest.NewRequest(http.MethodGet,
			"/subscriptions?status=ACTIVE&clientId="+clientID.String()+
				"&servicePlanId="+planID.String()+"&status=PAST_DUE&untagged=x", nil)

		var got listRequest
		require.NoError(t, binder.Query()(req, &got))

		assert.Equal(t, "ACTIVE", got.Status)
		require.NotNil(t, got.ClientID)
		assert.Equal(t, clientID, *got.ClientID)
		assert.Equal(t, planID, got.PlanID)
		assert.Empty(t, got.Untagged)
	})

	t.Run("absent params", func(t *testing.T) {
		t.Parallel()
		var got listRequest
		require.NoError(t, binder.Query()(httptest.NewRequest(http.MethodGet, "/subscriptions", nil), &got))
		assert.Nil(t, got.ClientID)
		assert.Equal(t, uuid.Nil, got.PlanID)
	})

	t.Run("empty uuid param is ignored", func(t *testing.T) {
		t.Parallel()
		var got listRequest
		require.NoError(t, binder.Query()(httptest.NewRequest(http.MethodGet, "/subscriptions?servicePlanId=", nil), &got))
		assert.Equal(t, uuid.Nil, got.PlanID)
	})

	t.Run("unsupported field type", func(t *testing.T) {
		t.Parallel()
		var got struct {
			Limit int `query:"limit"`
		}
		err := binder.Query()(httptest.NewRequest(http.MethodGet, "/subscriptions?limit=5", nil), &got)
		assert.ErrorIs(t, err, binder.ErrFailedToParseQuery)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		for _, q := range []string{"clientId=nope", "servicePlanId=123"} {
			var got listRequest
			err := binder.Query()(httptest.NewRequest(http.MethodGet, "/subscriptions?"+q, nil), &got)
			assert.ErrorIs(t, err, binder.ErrFailedToParseQuery, q)
		}
	})
}
