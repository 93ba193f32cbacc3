package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/lexbilling/handler"
	"github.com/dmitrymomot/lexbilling/modules/subscriptions"
	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/billing/pgstore"
	"github.com/dmitrymomot/lexbilling/pkg/clientip"
	"github.com/dmitrymomot/lexbilling/pkg/config"
	"github.com/dmitrymomot/lexbilling/pkg/email"
	"github.com/dmitrymomot/lexbilling/pkg/gateway"
	"github.com/dmitrymomot/lexbilling/pkg/httpserver"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
	"github.com/dmitrymomot/lexbilling/pkg/pg"
	"github.com/dmitrymomot/lexbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/lexbilling/pkg/redis"
	"github.com/dmitrymomot/lexbilling/pkg/requestid"
	"github.com/dmitrymomot/lexbilling/pkg/tenant"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook receiver and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	app, log, err := loadApp()
	if err != nil {
		return err
	}
	var (
		bcfg     billingConfig
		redisCfg redis.Config
		mailCfg  email.Config
		httpCfg  httpserver.Config
		rlCfg    ratelimiter.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&bcfg) },
		func() error { return config.Load(&redisCfg) },
		func() error { return config.Load(&mailCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&rlCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	box, err := bcfg.box()
	if err != nil {
		return err
	}
	loc, err := bcfg.location()
	if err != nil {
		return err
	}

	pool, _, err := connectDB(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := pgstore.New(pool)

	checks := []func(context.Context) error{pg.Healthcheck(pool)}

	var reportCache *billing.RedisReportCache
	if redisCfg.Enabled() {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer closeRedis(log, client)
		reportCache = billing.NewRedisReportCache(client, bcfg.ReportCacheTTL, log)
		checks = append(checks, redis.Healthcheck(client))
	} else {
		log.Warn("REDIS_URL not set, report summaries are not cached")
	}

	sender, err := newSender(mailCfg, log)
	if err != nil {
		return err
	}
	notifier := billing.NewEmailNotifier(sender, store)

	resolver := gateway.NewResolver(store, box,
		gateway.WithCache(bcfg.GatewayCacheSize, bcfg.GatewayCacheTTL),
		gateway.WithTimeout(bcfg.GatewayTimeout),
		gateway.WithStripeBaseURL(bcfg.StripeBaseURL),
		gateway.WithResolverLogger(log),
	)

	svcOpts := []billing.ServiceOption{
		billing.WithLogger(log),
		billing.WithNotifier(notifier),
		billing.WithCheckoutURLs(bcfg.CheckoutSuccessURL, bcfg.CheckoutCancelURL),
	}
	recOpts := []billing.ReconcilerOption{
		billing.WithReconcilerLogger(log),
		billing.WithReconcilerNotifier(notifier),
		billing.WithReconcilerGateways(resolver),
	}
	repOpts := []billing.ReporterOption{
		billing.WithLocation(loc),
		billing.WithReporterLogger(log),
	}
	if reportCache != nil {
		svcOpts = append(svcOpts, billing.WithReportInvalidator(reportCache))
		recOpts = append(recOpts, billing.WithReconcilerInvalidator(reportCache))
		repOpts = append(repOpts, billing.WithSummaryCache(reportCache))
	}

	limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), rlCfg)
	if err != nil {
		return err
	}
	limit := ratelimiter.Middleware(limiter,
		ratelimiter.WithKeyFunc(ratelimiter.Composite(
			ratelimiter.ByClientIP,
			ratelimiter.ByHeader(tenant.Header),
			ratelimiter.ByPathSegment("/webhooks/"),
		)),
		ratelimiter.WithLimitHandler(func(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
			_ = handler.JSONError(handler.ErrTooManyRequests.WithMessage("Too many requests")).Render(w, r)
		}),
	)

	svc := billing.NewService(store, resolver, svcOpts...)
	reconciler := billing.NewReconciler(store, recOpts...)
	reporter := billing.NewReporter(store, repOpts...)

	r := chi.NewRouter()
	r.Use(requestid.Middleware, clientip.Middleware(app.TrustedIPHeaders...))
	r.Get("/health/live", httpserver.HealthCheckHandler(log))
	r.Get("/health/ready", httpserver.HealthCheckHandler(log, checks...))
	r.Mount("/", limit(subscriptions.Router(subscriptions.RouterOptions{
		Webhooks: subscriptions.NewWebhooks(resolver, reconciler, log),
		API:      subscriptions.NewAPI(svc, reporter, log),
	})))

	metrics := http.NewServeMux()
	metrics.Handle("/metrics", promhttp.Handler())

	log.InfoContext(ctx, "starting lexbilling", slog.String("version", Version))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(httpCfg, httpserver.WithLogger(log), httpserver.WithName("api")).Run(gctx, r)
	})
	g.Go(func() error {
		cfg := httpserver.Config{Addr: app.MetricsAddr, ShutdownTimeout: httpCfg.ShutdownTimeout}
		return httpserver.New(cfg, httpserver.WithLogger(log), httpserver.WithName("metrics")).Run(gctx, metrics)
	})
	return g.Wait()
}

func newSender(cfg email.Config, log *slog.Logger) (email.Sender, error) {
	if !cfg.PostmarkEnabled() {
		log.Warn("POSTMARK_SERVER_TOKEN not set, notification emails are logged only")
		return email.NewLogSender(log), nil
	}
	sender, err := email.NewPostmarkSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("postmark sender: %w", err)
	}
	return sender, nil
}

func closeRedis(log *slog.Logger, client *goredis.Client) {
	if err := client.Close(); err != nil {
		log.Error("failed to close redis client", logger.Error(err))
	}
}

func connectDB(ctx context.Context) (*pgxpool.Pool, pg.Config, error) {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return nil, cfg, err
	}
	pool, err := pg.Connect(ctx, cfg)
	return pool, cfg, err
}
