package subscriptions_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/handler"
	"github.com/dmitrymomot/lexbilling/modules/subscriptions"
	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Provider() gateway.Provider { return gateway.ProviderStripe }

func (m *mockGateway) FindOrCreateCustomer(ctx context.Context, p gateway.CustomerParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CheckoutSession), args.Error(1)
}

func (m *mockGateway) CancelSubscription(ctx context.Context, ref string) error {
	return m.Called(ctx, ref).Error(0)
}

func (m *mockGateway) SyncPlan(ctx context.Context, p gateway.PlanParams) (*gateway.PlanRefs, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PlanRefs), args.Error(1)
}

func (m *mockGateway) ParseEvent(ctx context.Context, payload []byte, header http.Header) (*gateway.Event, error) {
	args := m.Called(ctx, payload, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Event), args.Error(1)
}

type staticResolver struct {
	gw  gateway.Gateway
	err error
}

func (r staticResolver) Resolve(context.Context, uuid.UUID) (gateway.Gateway, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.gw, nil
}

type fixture struct {
	store    *billing.MemoryStore
	tenantID uuid.UUID
	plan     billing.Plan
	client   billing.Client
	gw       *mockGateway
	resolver billing.GatewayResolver
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    billing.NewMemoryStore().WithClock(func() time.Time { return fixedNow }),
		tenantID: uuid.New(),
		gw:       &mockGateway{},
	}
	f.plan = billing.Plan{
		ID:       uuid.New(),
		TenantID: f.tenantID,
		Name:     "Consultoria Mensal",
		Price:    billing.Money{Amount: 15000, Currency: "brl"},
		Interval: billing.IntervalMonthly,
		Active:   true,
		PriceRef: "price_123",
	}
	f.client = billing.Client{ID: uuid.New(), TenantID: f.tenantID, Name: "Maria Silva", Email: "maria@example.com"}
	f.store.PutPlan(f.plan)
	f.store.PutClient(f.client)
	f.resolver = staticResolver{gw: f.gw}
	t.Cleanup(func() { f.gw.AssertExpectations(t) })
	return f
}

// build wires the module the way cmd/lexbilling does, against the memory store.
func (f *fixture) build() *fixture {
	log := logger.Nop()
	svc := billing.NewService(f.store, f.resolver,
		billing.WithLogger(log),
		billing.WithClock(func() time.Time { return fixedNow }),
	)
	reporter := billing.NewReporter(f.store, billing.WithReporterLogger(log))
	reconciler := billing.NewReconciler(f.store,
		billing.WithReconcilerLogger(log),
		billing.WithReconcilerClock(func() time.Time { return fixedNow }),
		billing.WithReconcilerGateways(f.resolver),
	)
	f.router = subscriptions.Router(subscriptions.RouterOptions{
		Webhooks: subscriptions.NewWebhooks(f.resolver, reconciler, log),
		API:      subscriptions.NewAPI(svc, reporter, log, subscriptions.WithAPIClock(func() time.Time { return fixedNow })),
	})
	return f
}

func (f *fixture) addSubscription(t *testing.T, status billing.Status, ref string) *billing.Subscription {
	t.Helper()
	sub := &billing.Subscription{
		ID:              uuid.New(),
		TenantID:        f.tenantID,
		ClientID:        f.client.ID,
		PlanID:          f.plan.ID,
		CustomerRef:     "cus_123",
		SubscriptionRef: ref,
		Status:          status,
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}
	require.NoError(t, f.store.CreateSubscription(context.Background(), sub))
	return sub
}

type envelope struct {
	Data  json.RawMessage      `json:"data"`
	Meta  map[string]any       `json:"meta"`
	Error *handler.ErrorDetail `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := newJSONRequest(t, method, path, body)
	req.Header.Set("X-Tenant-ID", f.tenantID.String())
	return f.serve(t, req)
}

func (f *fixture) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func newJSONRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	switch b := body.(type) {
	case nil:
		return httptest.NewRequest(method, path, nil)
	case string:
		req := httptest.NewRequest(method, path, bytes.NewBufferString(b))
		req.Header.Set("Content-Type", "application/json")
		return req
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		return req
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
