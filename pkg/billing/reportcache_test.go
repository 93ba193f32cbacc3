package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/lexbilling/pkg/billing"
	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*billing.RedisReportCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return billing.NewRedisReportCache(client, ttl, logger.Nop()), mr
}

func TestRedisReportCache(t *testing.T) {
	t.Parallel()

	t.Run("round trip with ttl", func(t *testing.T) {
		t.Parallel()
		cache, mr := newRedisCache(t, 30*time.Second)
		ctx := context.Background()
		tenantID := uuid.New()

		_, ok := cache.Get(ctx, tenantID, "2025-03")
		assert.False(t, ok)

		want := &billing.Summary{
			ActiveCount:    3,
			ForecastMRR:    200,
			MonthlyRevenue: []billing.MonthTotal{{Month: "2025-03", Total: 1200}},
			Delinquent:     []billing.Delinquent{},
		}
		cache.Set(ctx, tenantID, "2025-03", want)

		got, ok := cache.Get(ctx, tenantID, "2025-03")
		require.True(t, ok)
		assert.Equal(t, want, got)

		_, ok = cache.Get(ctx, tenantID, "2025-02")
		assert.False(t, ok)

		assert.Equal(t, 30*time.Second, mr.TTL("lexbilling:reports:"+tenantID.String()))

		mr.FastForward(31 * time.Second)
		_, ok = cache.Get(ctx, tenantID, "2025-03")
		assert.False(t, ok)
	})

	t.Run("invalidate drops every month of the tenant", func(t *testing.T) {
		t.Parallel()
		cache, _ := newRedisCache(t, time.Minute)
		ctx := context.Background()
		tenantID, other := uuid.New(), uuid.New()

		cache.Set(ctx, tenantID, "2025-02", &billing.Summary{ActiveCount: 1})
		cache.Set(ctx, tenantID, "2025-03", &billing.Summary{ActiveCount: 2})
		cache.Set(ctx, other, "2025-03", &billing.Summary{ActiveCount: 9})

		cache.Invalidate(ctx, tenantID)

		_, ok := cache.Get(ctx, tenantID, "2025-02")
		assert.False(t, ok)
		_, ok = cache.Get(ctx, tenantID, "2025-03")
		assert.False(t, ok)
		got, ok := cache.Get(ctx, other, "2025-03")
		require.True(t, ok)
		assert.Equal(t, 9, got.ActiveCount)
	})

	t.Run("corrupt entry is a miss", func(t *testing.T) {
		t.Parallel()
		cache, mr := newRedisCache(t, time.Minute)
		tenantID := uuid.New()
		mr.HSet("lexbilling:reports:"+tenantID.String(), "2025-03", "{not json")

		_, ok := cache.Get(context.Background(), tenantID, "2025-03")
		assert.False(t, ok)
	})

	t.Run("redis outage falls back to computing", func(t *testing.T) {
		t.Parallel()
		cache, mr := newRedisCache(t, time.Minute)
		mr.Close()

		f := newFixture(t)
		f.addSubscription(t, billing.StatusActive, "sub_1")
		reporter := billing.NewReporter(f.store, billing.WithSummaryCache(cache))

		s, err := reporter.Summary(context.Background(), f.tenantID, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, 1, s.ActiveCount)

		assert.NotPanics(t, func() { cache.Invalidate(context.Background(), f.tenantID) })
	})

	t.Run("default ttl", func(t *testing.T) {
		t.Parallel()
		cache, mr := newRedisCache(t, 0)
		tenantID := uuid.New()
		cache.Set(context.Background(), tenantID, "2025-03", &billing.Summary{})
		assert.Equal(t, billing.DefaultReportCacheTTL, mr.TTL("lexbilling:reports:"+tenantID.String()))
	})
}
