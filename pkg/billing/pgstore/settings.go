package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/pg"
)

// GetBillingSettings implements gateway.CredentialStore. Secrets stay sealed.
func (s *Store) GetBillingSettings(ctx context.Context, tenantID uuid.UUID) (*gateway.Settings, error) {
	st := gateway.Settings{TenantID: tenantID}
	err := s.pool.QueryRow(ctx, `
		SELECT provider, secret_key_sealed, webhook_secret_sealed, sandbox, active, COALESCE(notification_email, '')
		FROM tenant_billing_settings WHERE tenant_id = $1`, tenantID,
	).Scan(&st.Provider, &st.SecretKeySealed, &st.WebhookSecretSealed, &st.Sandbox, &st.Active, &st.NotificationEmail)
	if pg.IsNotFoundError(err) {
		return nil, gateway.ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("get billing settings: %w", err)
	}
	return &st, nil
}

// SaveBillingSettings inserts or replaces a tenant's gateway settings. Secrets
// must already be sealed.
func (s *Store) SaveBillingSettings(ctx context.Context, st gateway.Settings) error {
	provider := st.Provider
	if provider == "" {
		provider = gateway.ProviderStripe
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_billing_settings
			(tenant_id, provider, secret_key_sealed, webhook_secret_sealed, sandbox, active, notification_email)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		ON CONFLICT (tenant_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			secret_key_sealed = EXCLUDED.secret_key_sealed,
			webhook_secret_sealed = EXCLUDED.webhook_secret_sealed,
			sandbox = EXCLUDED.sandbox,
			active = EXCLUDED.active,
			notification_email = EXCLUDED.notification_email,
			updated_at = now()`,
		st.TenantID, provider, st.SecretKeySealed, st.WebhookSecretSealed, st.Sandbox, st.Active, st.NotificationEmail)
	if err != nil {
		return fmt.Errorf("save billing settings: %w", err)
	}
	return nil
}

// NotificationEmail implements billing.RecipientStore.
func (s *Store) NotificationEmail(ctx context.Context, tenantID uuid.UUID) (string, error) {
	var addr string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(notification_email, '') FROM tenant_billing_settings WHERE tenant_id = $1`, tenantID,
	).Scan(&addr)
	if err != nil {
		return "", fmt.Errorf("get notification email: %w", notFound(err))
	}
	if addr == "" {
		return "", billing.ErrNotFound
	}
	return addr, nil
}
