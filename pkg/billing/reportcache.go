package billing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/lexbilling/pkg/logger"
)

// DefaultReportCacheTTL is used when RedisReportCache is given no TTL.
const DefaultReportCacheTTL = time.Minute

// RedisReportCache keeps summaries in one Redis hash per tenant, one field per
// month. Invalidate drops the whole hash. Redis failures are logged and
// treated as cache misses.
type RedisReportCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

var (
	_ SummaryCache      = (*RedisReportCache)(nil)
	_ ReportInvalidator = (*RedisReportCache)(nil)
)

func NewRedisReportCache(client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *RedisReportCache {
	if client == nil {
		panic("billing: redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultReportCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisReportCache{
		client: client,
		ttl:    ttl,
		prefix: "lexbilling:reports:",
		log:    log.With(logger.Component("billing.report_cache")),
	}
}

func (c *RedisReportCache) key(tenantID uuid.UUID) string {
	return c.prefix + tenantID.String()
}

func (c *RedisReportCache) Get(ctx context.Context, tenantID uuid.UUID, month string) (*Summary, bool) {
	raw, err := c.client.HGet(ctx, c.key(tenantID), month).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WarnContext(ctx, "report cache read failed", logger.TenantID(tenantID), logger.Error(err))
		}
		return nil, false
	}

	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		c.log.WarnContext(ctx, "report cache entry is corrupt", logger.TenantID(tenantID), logger.Error(err))
		return nil, false
	}
	return &s, true
}

func (c *RedisReportCache) Set(ctx context.Context, tenantID uuid.UUID, month string, s *Summary) {
	raw, err := json.Marshal(s)
	if err != nil {
		c.log.WarnContext(ctx, "failed to encode report summary", logger.TenantID(tenantID), logger.Error(err))
		return
	}

	key := c.key(tenantID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, month, raw)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.log.WarnContext(ctx, "report cache write failed", logger.TenantID(tenantID), logger.Error(err))
	}
}

// Invalidate implements ReportInvalidator.
func (c *RedisReportCache) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		c.log.WarnContext(ctx, "report cache invalidation failed", logger.TenantID(tenantID), logger.Error(err))
	}
}
