package billing_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

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

// staticResolver hands out the same gateway for every tenant, or err.
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

type recordingNotifier struct {
	mu   sync.Mutex
	sent []billing.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg billing.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) Sent() []billing.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]billing.Notification(nil), n.sent...)
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
}

func (c *countingInvalidator) Invalidate(_ context.Context, tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[uuid.UUID]int)
	}
	c.calls[tenantID]++
}

func (c *countingInvalidator) Count(tenantID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tenantID]
}

var fixedNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

// fixture seeds a memory store with one tenant, one synced plan and one client.
type fixture struct {
	store    *billing.MemoryStore
	tenantID uuid.UUID
	plan     billing.Plan
	client   billing.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    billing.NewMemoryStore().WithClock(func() time.Time { return fixedNow }),
		tenantID: uuid.New(),
	}
	f.plan = billing.Plan{
		ID:        uuid.New(),
		TenantID:  f.tenantID,
		Name:      "Consultoria Mensal",
		Price:     billing.Money{Amount: 15000, Currency: "brl"},
		Interval:  billing.IntervalMonthly,
		Active:    true,
		PriceRef:  "price_123",
		CreatedAt: fixedNow,
	}
	f.client = billing.Client{
		ID:       uuid.New(),
		TenantID: f.tenantID,
		Name:     "Maria Silva",
		Email:    "maria@example.com",
		Phone:    "+5511999999999",
	}
	f.store.PutPlan(f.plan)
	f.store.PutClient(f.client)
	f.store.PutSettings(gateway.Settings{
		TenantID:          f.tenantID,
		Provider:          gateway.ProviderStripe,
		Active:            true,
		NotificationEmail: "admin@firm.example",
	})
	return f
}

// addSubscription stores a subscription for the fixture client and plan.
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
	}
	if err := f.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
	return sub
}

func (f *fixture) service(gw gateway.Gateway, opts ...billing.ServiceOption) *billing.Service {
	opts = append([]billing.ServiceOption{
		billing.WithLogger(logger.Nop()),
		billing.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	return billing.NewService(f.store, staticResolver{gw: gw}, opts...)
}

func (f *fixture) reconciler(opts ...billing.ReconcilerOption) *billing.Reconciler {
	opts = append([]billing.ReconcilerOption{
		billing.WithReconcilerLogger(logger.Nop()),
		billing.WithReconcilerClock(func() time.Time { return fixedNow }),
	}, opts...)
	return billing.NewReconciler(f.store, opts...)
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *billing.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), f.tenantID, id)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	return sub
}

func (f *fixture) payments(t *testing.T, id uuid.UUID) []billing.Payment {
	t.Helper()
	ps, err := f.store.ListPayments(context.Background(), f.tenantID, id, 0)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	return ps
}
