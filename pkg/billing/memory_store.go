package billing

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
)

type eventKey struct {
	tenantID uuid.UUID
	provider string
	eventID  string
}

// MemoryStore is an in-process Store. A single mutex serializes writes, which
// gives the same guarantees as row locks and the partial unique index of the
// PostgreSQL store. Used in tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	plans    map[uuid.UUID]Plan
	clients  map[uuid.UUID]Client
	subs     map[uuid.UUID]Subscription
	payments []Payment
	events   map[eventKey]ProcessedEvent
	settings map[uuid.UUID]gateway.Settings
	now      func() time.Time
}

var (
	_ Store                   = (*MemoryStore)(nil)
	_ gateway.CredentialStore = (*MemoryStore)(nil)
	_ RecipientStore          = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:    make(map[uuid.UUID]Plan),
		clients:  make(map[uuid.UUID]Client),
		subs:     make(map[uuid.UUID]Subscription),
		events:   make(map[eventKey]ProcessedEvent),
		settings: make(map[uuid.UUID]gateway.Settings),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for created/updated timestamps.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// PutPlan inserts or replaces a plan.
func (m *MemoryStore) PutPlan(p Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = p
}

// PutClient inserts or replaces a client.
func (m *MemoryStore) PutClient(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

// PutSettings inserts or replaces a tenant's gateway settings.
func (m *MemoryStore) PutSettings(s gateway.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.TenantID] = s
}

func (m *MemoryStore) GetBillingSettings(_ context.Context, tenantID uuid.UUID) (*gateway.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[tenantID]
	if !ok {
		return nil, gateway.ErrNotConfigured
	}
	return &s, nil
}

func (m *MemoryStore) NotificationEmail(_ context.Context, tenantID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[tenantID]
	if !ok || s.NotificationEmail == "" {
		return "", ErrNotFound
	}
	return s.NotificationEmail, nil
}

func (m *MemoryStore) GetPlan(_ context.Context, tenantID, planID uuid.UUID) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) SetPlanRefs(_ context.Context, tenantID, planID uuid.UUID, productRef, priceRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return ErrNotFound
	}
	p.ProductRef, p.PriceRef, p.UpdatedAt = productRef, priceRef, m.now()
	m.plans[planID] = p
	return nil
}

func (m *MemoryStore) GetClient(_ context.Context, tenantID, clientID uuid.UUID) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok || c.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.findOpen(sub.TenantID, sub.ClientID, sub.PlanID); ok {
		return &DuplicateActiveSubscriptionError{ExistingID: existing.ID}
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := m.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, tenantID, id uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) FindOpenSubscription(_ context.Context, tenantID, clientID, planID uuid.UUID) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.findOpen(tenantID, clientID, planID)
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) findOpen(tenantID, clientID, planID uuid.UUID) (Subscription, bool) {
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.ClientID == clientID && s.PlanID == planID && !s.Status.IsTerminal() {
			return s, true
		}
	}
	return Subscription{}, false
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, tenantID uuid.UUID, f ListFilter) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Subscription, 0)
	for _, s := range m.subs {
		if s.TenantID != tenantID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.ClientID != uuid.Nil && s.ClientID != f.ClientID {
			continue
		}
		if f.PlanID != uuid.Nil && s.PlanID != f.PlanID {
			continue
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Subscription) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ListPayments(_ context.Context, tenantID, subscriptionID uuid.UUID, limit int) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Payment, 0)
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.TenantID != tenantID || p.SubscriptionID != subscriptionID {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, tenantID, id uuid.UUID, fn func(sub *Subscription) error) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if err := fn(&s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()
	m.subs[id] = s
	return &s, nil
}

func (m *MemoryStore) ApplyEvent(ctx context.Context, evt ProcessedEvent, fn func(tx EventTx) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := eventKey{tenantID: evt.TenantID, provider: evt.Provider, eventID: evt.EventID}
	if _, done := m.events[key]; done {
		return false, nil
	}

	tx := &memoryTx{store: m, subs: make(map[uuid.UUID]Subscription)}
	if err := fn(tx); err != nil {
		return false, err
	}

	now := m.now()
	for id, s := range tx.subs {
		s.UpdatedAt = now
		m.subs[id] = s
	}
	m.payments = append(m.payments, tx.payments...)
	if evt.ProcessedAt.IsZero() {
		evt.ProcessedAt = now
	}
	m.events[key] = evt
	return true, nil
}

// memoryTx stages writes until ApplyEvent commits them. The store mutex is
// held for its whole lifetime.
type memoryTx struct {
	store    *MemoryStore
	subs     map[uuid.UUID]Subscription
	payments []Payment
}

func (tx *memoryTx) GetPlan(_ context.Context, tenantID, planID uuid.UUID) (*Plan, error) {
	p, ok := tx.store.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (tx *memoryTx) LockSubscription(_ context.Context, tenantID, id uuid.UUID) (*Subscription, error) {
	s, ok := tx.subs[id]
	if !ok {
		s, ok = tx.store.subs[id]
	}
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (tx *memoryTx) LockSubscriptionByRef(ctx context.Context, tenantID uuid.UUID, ref string) (*Subscription, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	for _, s := range tx.subs {
		if s.TenantID == tenantID && s.SubscriptionRef == ref {
			return &s, nil
		}
	}
	var found []Subscription
	for _, s := range tx.store.subs {
		if s.TenantID == tenantID && s.SubscriptionRef == ref {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	newest := slices.MaxFunc(found, func(a, b Subscription) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return tx.LockSubscription(ctx, tenantID, newest.ID)
}

func (tx *memoryTx) SaveSubscription(_ context.Context, sub *Subscription) error {
	tx.subs[sub.ID] = *sub
	return nil
}

func (tx *memoryTx) AppendPayment(_ context.Context, p *Payment) (bool, error) {
	dup := func(o Payment) bool {
		return o.SubscriptionID == p.SubscriptionID && o.InvoiceRef == p.InvoiceRef && o.Status == p.Status
	}
	if p.InvoiceRef != "" && (slices.ContainsFunc(tx.store.payments, dup) || slices.ContainsFunc(tx.payments, dup)) {
		return false, nil
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = tx.store.now()
	}
	tx.payments = append(tx.payments, *p)
	return true, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Status]int)
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			out[s.Status]++
		}
	}
	return out, nil
}

func (m *MemoryStore) CountCanceledBetween(_ context.Context, tenantID uuid.UUID, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.TenantID == tenantID && s.CanceledAt != nil && within(*s.CanceledAt, from, to) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListPaidPayments(_ context.Context, tenantID uuid.UUID, from, to time.Time) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Payment, 0)
	for _, p := range m.payments {
		if p.TenantID == tenantID && p.Status == PaymentPaid && p.PaidAt != nil && within(*p.PaidAt, from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListActivePrices(_ context.Context, tenantID uuid.UUID) ([]PlanPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlanPrice, 0)
	for _, s := range m.subs {
		if s.TenantID != tenantID || s.Status != StatusActive {
			continue
		}
		if p, ok := m.plans[s.PlanID]; ok {
			out = append(out, PlanPrice{Amount: p.Price.Amount, Interval: p.Interval})
		}
	}
	return out, nil
}

func (m *MemoryStore) ListDelinquent(_ context.Context, tenantID uuid.UUID) ([]Delinquent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delinquent, 0)
	for _, s := range m.subs {
		if s.TenantID != tenantID || s.Status != StatusPastDue {
			continue
		}
		d := Delinquent{
			SubscriptionID:   s.ID,
			ClientID:         s.ClientID,
			CurrentPeriodEnd: s.CurrentPeriodEnd,
			PastDueSince:     s.UpdatedAt,
		}
		if s.PastDueAt != nil {
			d.PastDueSince = *s.PastDueAt
		}
		if c, ok := m.clients[s.ClientID]; ok {
			d.ClientName, d.ClientEmail, d.ClientPhone = c.Name, c.Email, c.Phone
		}
		if p, ok := m.plans[s.PlanID]; ok {
			d.PlanName, d.Price, d.Interval = p.Name, p.Price, p.Interval
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Delinquent) int {
		return cmp.Or(a.PastDueSince.Compare(b.PastDueSince), cmp.Compare(a.ClientName, b.ClientName))
	})
	return out, nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
