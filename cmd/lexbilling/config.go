package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dmitrymomot/lexbilling/pkg/clientip"
	"github.com/dmitrymomot/lexbilling/pkg/config"
	"github.com/dmitrymomot/lexbilling/pkg/environment"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/requestid"
	"github.com/dmitrymomot/lexbilling/pkg/secrets"
	"github.com/dmitrymomot/lexbilling/pkg/tenant"
)

type appConfig struct {
	Env         string     `env:"APP_ENV" envDefault:"development"`
	Name        string     `env:"APP_NAME" envDefault:"lexbilling"`
	LogLevel    slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	MetricsAddr string     `env:"METRICS_ADDR" envDefault:":9091"`

	// Proxy headers trusted for the caller address in logs.
	TrustedIPHeaders []string `env:"TRUSTED_IP_HEADERS" envSeparator:"," envDefault:"X-Forwarded-For,X-Real-IP"`
}

type billingConfig struct {
	EncryptionKey      string        `env:"BILLING_ENCRYPTION_KEY,required"`
	CheckoutSuccessURL string        `env:"BILLING_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL  string        `env:"BILLING_CHECKOUT_CANCEL_URL"`
	GatewayTimeout     time.Duration `env:"BILLING_GATEWAY_TIMEOUT" envDefault:"15s"`
	GatewayCacheSize   int           `env:"BILLING_GATEWAY_CACHE_SIZE" envDefault:"256"`
	GatewayCacheTTL    time.Duration `env:"BILLING_GATEWAY_CACHE_TTL" envDefault:"5m"`
	StripeBaseURL      string        `env:"BILLING_STRIPE_BASE_URL"`
	ReportCacheTTL     time.Duration `env:"REPORT_CACHE_TTL" envDefault:"1m"`
	ReportTimezone     string        `env:"REPORT_TIMEZONE" envDefault:"America/Sao_Paulo"`
}

func (c billingConfig) location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, fmt.Errorf("load report timezone: %w", err)
	}
	return loc, nil
}

func (c billingConfig) box() (*secrets.Box, error) {
	box, err := secrets.NewBoxFromBase64(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("BILLING_ENCRYPTION_KEY: %w", err)
	}
	return box, nil
}

func newLogger(cfg appConfig) *slog.Logger {
	env := environment.Parse(cfg.Env)
	format := logger.FormatJSON
	if env.IsDevelopment() {
		format = logger.FormatText
	}
	return logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(format),
		logger.WithOutput(os.Stdout),
		logger.WithEnvironment(string(env), cfg.Name),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			clientip.LoggerExtractor(),
			tenant.LoggerExtractor(),
		),
	)
}

func loadApp() (appConfig, *slog.Logger, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return cfg, nil, err
	}
	return cfg, newLogger(cfg), nil
}
