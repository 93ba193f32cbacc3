package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/lexbilling/pkg/cache"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/secrets"
)

// Settings is a tenant's stored gateway configuration. Secrets are sealed
// with secrets.Box and opened only when a Gateway is built.
type Settings struct {
	TenantID            uuid.UUID
	Provider            Provider
	SecretKeySealed     string
	WebhookSecretSealed string
	Sandbox             bool
	Active              bool
	NotificationEmail   string
}

// CredentialStore loads tenant gateway settings. Implementations return
// ErrNotConfigured when the tenant has none.
type CredentialStore interface {
	GetBillingSettings(ctx context.Context, tenantID uuid.UUID) (*Settings, error)
}

// Resolver builds tenant-bound gateways from stored credentials.
type Resolver struct {
	store   CredentialStore
	box     *secrets.Box
	cache   *cache.LRU[uuid.UUID, Gateway]
	group   singleflight.Group
	timeout time.Duration
	baseURL string
	log     *slog.Logger
}

type ResolverOption func(*Resolver)

// WithCache sets the gateway cache size and TTL. Defaults are 256 tenants for
// five minutes.
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if size > 0 {
			r.cache = cache.NewLRU[uuid.UUID, Gateway](size, ttl)
		}
	}
}

// WithTimeout bounds every outbound gateway call.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithStripeBaseURL points Stripe gateways at a different API endpoint.
func WithStripeBaseURL(url string) ResolverOption {
	return func(r *Resolver) { r.baseURL = url }
}

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func NewResolver(store CredentialStore, box *secrets.Box, opts ...ResolverOption) *Resolver {
	if store == nil {
		panic("gateway: CredentialStore is required")
	}
	if box == nil {
		panic("gateway: secrets.Box is required")
	}
	r := &Resolver{
		store:   store,
		box:     box,
		cache:   cache.NewLRU[uuid.UUID, Gateway](256, 5*time.Minute),
		timeout: 15 * time.Second,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the tenant's gateway. Concurrent calls for the same tenant
// share a single credential load.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID) (Gateway, error) {
	if gw, ok := r.cache.Get(tenantID); ok {
		return gw, nil
	}

	v, err, _ := r.group.Do(tenantID.String(), func() (any, error) {
		if gw, ok := r.cache.Get(tenantID); ok {
			return gw, nil
		}
		gw, err := r.build(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		r.cache.Put(tenantID, gw)
		return gw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Gateway), nil
}

// Invalidate drops the cached gateway, e.g. after credentials are rotated.
func (r *Resolver) Invalidate(tenantID uuid.UUID) {
	r.cache.Remove(tenantID)
}

func (r *Resolver) build(ctx context.Context, tenantID uuid.UUID) (Gateway, error) {
	s, err := r.store.GetBillingSettings(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return nil, err
		}
		return nil, errors.Join(ErrFailedToLoadCredential, err)
	}
	if s == nil || !s.Active || s.SecretKeySealed == "" {
		return nil, ErrNotConfigured
	}

	key, err := r.box.Open(tenantID, s.SecretKeySealed)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadCredential, err)
	}
	var whsec string
	if s.WebhookSecretSealed != "" {
		if whsec, err = r.box.Open(tenantID, s.WebhookSecretSealed); err != nil {
			return nil, errors.Join(ErrFailedToLoadCredential, err)
		}
	}

	r.log.DebugContext(ctx, "payment gateway resolved",
		logger.TenantID(tenantID),
		logger.Provider(string(s.Provider)),
	)

	switch s.Provider {
	case ProviderStripe, "":
		return NewStripe(StripeConfig{
			SecretKey:     key,
			WebhookSecret: whsec,
			Timeout:       r.timeout,
			BaseURL:       r.baseURL,
		})
	case ProviderPaddle:
		return NewPaddle(PaddleConfig{
			APIKey:        key,
			WebhookSecret: whsec,
			Sandbox:       s.Sandbox,
			Timeout:       r.timeout,
		})
	default:
		return nil, ErrUnknownProvider
	}
}
