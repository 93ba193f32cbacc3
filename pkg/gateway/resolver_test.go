package gateway_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/secrets"
)

type settingsStore struct {
	mu       sync.Mutex
	settings map[uuid.UUID]*gateway.Settings
	calls    atomic.Int32
	delay    time.Duration
}

func (s *settingsStore) GetBillingSettings(_ context.Context, tenantID uuid.UUID) (*gateway.Settings, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[tenantID]
	if !ok {
		return nil, gateway.ErrNotConfigured
	}
	return st, nil
}

func newBox(t *testing.T) *secrets.Box {
	t.Helper()
	key, err := secrets.GenerateKey()
	require.NoError(t, err)
	box, err := secrets.NewBox(key)
	require.NoError(t, err)
	return box
}

func sealed(t *testing.T, box *secrets.Box, tenantID uuid.UUID, provider gateway.Provider, active bool) *gateway.Settings {
	t.Helper()
	key, err := box.Seal(tenantID, "sk_test_tenant")
	require.NoError(t, err)
	wh, err := box.Seal(tenantID, "whsec_tenant")
	require.NoError(t, err)
	return &gateway.Settings{
		TenantID: tenantID, Provider: provider, Active: active,
		SecretKeySealed: key, WebhookSecretSealed: wh,
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	box := newBox(t)

	stripeTenant, paddleTenant, inactiveTenant, foreignTenant := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	store := &settingsStore{settings: map[uuid.UUID]*gateway.Settings{
		stripeTenant:   sealed(t, box, stripeTenant, gateway.ProviderStripe, true),
		paddleTenant:   sealed(t, box, paddleTenant, gateway.ProviderPaddle, true),
		inactiveTenant: sealed(t, box, inactiveTenant, gateway.ProviderStripe, false),
	}}
	// Secrets sealed for another tenant must not open.
	store.settings[foreignTenant] = sealed(t, box, stripeTenant, gateway.ProviderStripe, true)

	r := gateway.NewResolver(store, box)

	gw, err := r.Resolve(context.Background(), stripeTenant)
	require.NoError(t, err)
	assert.Equal(t, gateway.ProviderStripe, gw.Provider())

	gw, err = r.Resolve(context.Background(), paddleTenant)
	require.NoError(t, err)
	assert.Equal(t, gateway.ProviderPaddle, gw.Provider())

	_, err = r.Resolve(context.Background(), inactiveTenant)
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)

	_, err = r.Resolve(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)

	_, err = r.Resolve(context.Background(), foreignTenant)
	assert.ErrorIs(t, err, gateway.ErrFailedToLoadCredential)
	assert.ErrorIs(t, err, secrets.ErrDecryptionFailed)
}

func TestResolver_CachesAndCollapses(t *testing.T) {
	t.Parallel()
	box := newBox(t)
	tenantID := uuid.New()
	store := &settingsStore{
		settings: map[uuid.UUID]*gateway.Settings{tenantID: sealed(t, box, tenantID, gateway.ProviderStripe, true)},
		delay:    50 * time.Millisecond,
	}
	r := gateway.NewResolver(store, box, gateway.WithCache(8, time.Minute))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), tenantID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, store.calls.Load())

	_, err := r.Resolve(context.Background(), tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, store.calls.Load())

	r.Invalidate(tenantID)
	_, err = r.Resolve(context.Background(), tenantID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, store.calls.Load())
}

func TestResolver_StoreFailure(t *testing.T) {
	t.Parallel()
	r := gateway.NewResolver(failingStore{}, newBox(t))
	_, err := r.Resolve(context.Background(), uuid.New())
	assert.ErrorIs(t, err, gateway.ErrFailedToLoadCredential)
	assert.False(t, errors.Is(err, gateway.ErrNotConfigured))
}

type failingStore struct{}

func (failingStore) GetBillingSettings(context.Context, uuid.UUID) (*gateway.Settings, error) {
	return nil, errors.New("connection reset")
}
