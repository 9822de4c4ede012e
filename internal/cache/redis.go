package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const billingKeyPrefix = "tenant:billing:"

// RedisCache is the redis-backed billing cache used in multi-instance
// deployments, where an in-process map would miss invalidations from peers.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache with the given TTL (DefaultTTL when
// non-positive).
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func billingKey(tenantID string) string {
	return billingKeyPrefix + strings.TrimSpace(tenantID)
}

// Get returns the cached billing info for a tenant, if present.
func (c *RedisCache) Get(ctx context.Context, tenantID string) (BillingInfo, bool) {
	if c == nil || c.client == nil || strings.TrimSpace(tenantID) == "" {
		return BillingInfo{}, false
	}

	raw, errGet := c.client.Get(ctx, billingKey(tenantID)).Bytes()
	if errGet != nil {
		if errGet != redis.Nil {
			log.WithError(errGet).Warnf("cache: billing get failed (tenant=%s)", tenantID)
		}
		return BillingInfo{}, false
	}

	var info BillingInfo
	if errUnmarshal := json.Unmarshal(raw, &info); errUnmarshal != nil {
		log.WithError(errUnmarshal).Warnf("cache: billing decode failed (tenant=%s)", tenantID)
		return BillingInfo{}, false
	}
	return info, true
}

// Set stores billing info for a tenant. Cache failures are logged, never fatal.
func (c *RedisCache) Set(ctx context.Context, tenantID string, info BillingInfo) {
	if c == nil || c.client == nil || strings.TrimSpace(tenantID) == "" {
		return
	}

	raw, errMarshal := json.Marshal(info)
	if errMarshal != nil {
		log.WithError(errMarshal).Warnf("cache: billing encode failed (tenant=%s)", tenantID)
		return
	}
	if errSet := c.client.Set(ctx, billingKey(tenantID), raw, c.ttl).Err(); errSet != nil {
		log.WithError(errSet).Warnf("cache: billing set failed (tenant=%s)", tenantID)
	}
}

// Invalidate drops the cached billing info for a tenant.
func (c *RedisCache) Invalidate(ctx context.Context, tenantID string) {
	if c == nil || c.client == nil || strings.TrimSpace(tenantID) == "" {
		return
	}
	if errDel := c.client.Del(ctx, billingKey(tenantID)).Err(); errDel != nil {
		log.WithError(errDel).Warnf("cache: billing invalidate failed (tenant=%s)", tenantID)
	}
}

var _ Service = (*RedisCache)(nil)
