package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dmitrymomot/lexbilling/pkg/billing/pgstore"
	"github.com/dmitrymomot/lexbilling/pkg/config"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/validator"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenant billing settings",
}

var setGatewayFlags struct {
	tenantID      string
	provider      string
	secretKey     string
	webhookSecret string
	notifyEmail   string
	sandbox       bool
	inactive      bool
}

var setGatewayCmd = &cobra.Command{
	Use:   "set-gateway",
	Short: "Store a tenant's payment gateway credentials",
	Long: `Seals the gateway API key and webhook secret with BILLING_ENCRYPTION_KEY and
stores them for the tenant. Secrets can also be passed through the
LEXBILLING_SECRET_KEY and LEXBILLING_WEBHOOK_SECRET environment variables.`,
	RunE: runSetGateway,
}

func init() {
	f := setGatewayCmd.Flags()
	f.StringVar(&setGatewayFlags.tenantID, "tenant", "", "tenant UUID")
	f.StringVar(&setGatewayFlags.provider, "provider", string(gateway.ProviderStripe), "gateway provider (stripe or paddle)")
	f.StringVar(&setGatewayFlags.secretKey, "secret-key", "", "gateway API key")
	f.StringVar(&setGatewayFlags.webhookSecret, "webhook-secret", "", "webhook signing secret")
	f.StringVar(&setGatewayFlags.notifyEmail, "notify-email", "", "address receiving billing notifications")
	f.BoolVar(&setGatewayFlags.sandbox, "sandbox", false, "use the provider sandbox")
	f.BoolVar(&setGatewayFlags.inactive, "inactive", false, "store the settings disabled")
	_ = setGatewayCmd.MarkFlagRequired("tenant")

	tenantCmd.AddCommand(setGatewayCmd)
}

type gatewaySecrets struct {
	SecretKey     string `env:"LEXBILLING_SECRET_KEY"`
	WebhookSecret string `env:"LEXBILLING_WEBHOOK_SECRET"`
}

func runSetGateway(cmd *cobra.Command, _ []string) error {
	flags := setGatewayFlags
	provider := gateway.Provider(strings.ToLower(flags.provider))
	if !provider.Valid() {
		return fmt.Errorf("unsupported provider %q", flags.provider)
	}

	var fromEnv gatewaySecrets
	if err := config.Load(&fromEnv); err != nil {
		return err
	}
	secretKey := firstNonEmpty(flags.secretKey, fromEnv.SecretKey)
	webhookSecret := firstNonEmpty(flags.webhookSecret, fromEnv.WebhookSecret)
	if err := validator.Apply(
		validator.ValidUUID("tenant", strings.TrimSpace(flags.tenantID)),
		validator.RequiredString("secret-key", secretKey),
		validator.RequiredString("webhook-secret", webhookSecret),
	); err != nil {
		return err
	}
	tenantID := uuid.MustParse(strings.TrimSpace(flags.tenantID))
	if tenantID == uuid.Nil {
		return errors.New("tenant: must not be the nil UUID")
	}

	_, log, err := loadApp()
	if err != nil {
		return err
	}
	var bcfg billingConfig
	if err := config.Load(&bcfg); err != nil {
		return err
	}
	box, err := bcfg.box()
	if err != nil {
		return err
	}

	sealedKey, err := box.Seal(tenantID, secretKey)
	if err != nil {
		return err
	}
	sealedWebhook, err := box.Seal(tenantID, webhookSecret)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, _, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgstore.New(pool).SaveBillingSettings(ctx, gateway.Settings{
		TenantID:            tenantID,
		Provider:            provider,
		SecretKeySealed:     sealedKey,
		WebhookSecretSealed: sealedWebhook,
		Sandbox:             flags.sandbox,
		Active:              !flags.inactive,
		NotificationEmail:   strings.TrimSpace(flags.notifyEmail),
	}); err != nil {
		return err
	}

	log.Info("gateway settings saved", logger.TenantID(tenantID), logger.Provider(string(provider)))
	fmt.Fprintf(cmd.OutOrStdout(), "Webhook endpoint: /webhooks/%s/%s\n", tenantID, provider)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
