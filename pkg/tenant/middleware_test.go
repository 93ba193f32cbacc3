package tenant_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/tenant"
)

func TestMiddleware(t *testing.T) {
	t.Parallel()

	next := func(t *testing.T, want uuid.UUID) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := tenant.IDFromContext(r.Context())
			require.True(t, ok)
			assert.Equal(t, want, got)
			w.WriteHeader(http.StatusOK)
		})
	}
	never := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not be called")
	})

	t.Run("adds tenant id from header", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
		req.Header.Set(tenant.Header, " "+id.String()+" ")
		w := httptest.NewRecorder()

		tenant.Middleware(tenant.NewHeaderResolver(""))(next(t, id)).ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		tenant.Middleware(tenant.NewHeaderResolver(""))(never).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "required")
	})

	t.Run("invalid identifier", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
		req.Header.Set(tenant.Header, "acme")
		w := httptest.NewRecorder()
		tenant.Middleware(tenant.NewHeaderResolver(""))(never).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("custom error handler and resolver", func(t *testing.T) {
		t.Parallel()
		var got error
		resolverErr := errors.New("boom")
		mw := tenant.Middleware(
			tenant.ResolverFunc(func(*http.Request) (string, error) { return "", resolverErr }),
			tenant.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
				got = err
				w.WriteHeader(http.StatusTeapot)
			}),
		)
		w := httptest.NewRecorder()
		mw(never).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusTeapot, w.Code)
		assert.ErrorIs(t, got, tenant.ErrInvalidIdentifier)
		assert.ErrorIs(t, got, resolverErr)
	})
}
