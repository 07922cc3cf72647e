package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lodge-service/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AvailabilityCache хранит результаты поиска свободных номеров.
// Ключи: avail:{tenant}:ver (счётчик) и avail:{tenant}:v{n}:{query}.
// Invalidate поднимает счётчик, старые записи умирают по TTL.
type AvailabilityCache struct {
	redis *RedisClient
	ttl   time.Duration
	log   *zap.Logger
}

var _ service.AvailabilityCache = (*AvailabilityCache)(nil)

func NewAvailabilityCache(r *RedisClient, ttl time.Duration, log *zap.Logger) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &AvailabilityCache{redis: r, ttl: ttl, log: log}
}

func versionKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("avail:%s:ver", tenantID)
}

func entryKey(tenantID uuid.UUID, version int64, key string) string {
	return fmt.Sprintf("avail:%s:v%d:%s", tenantID, version, key)
}

func (c *AvailabilityCache) Version(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return c.redis.GetInt(ctx, versionKey(tenantID))
}

func (c *AvailabilityCache) Get(ctx context.Context, tenantID uuid.UUID, version int64, key string) ([]service.AvailabilityResult, bool, error) {
	raw, ok, err := c.redis.Get(ctx, entryKey(tenantID, version, key))
	if err != nil || !ok {
		return nil, false, err
	}
	var out []service.AvailabilityResult
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.Warn("битая запись кэша доступности", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return out, true, nil
}

func (c *AvailabilityCache) Put(ctx context.Context, tenantID uuid.UUID, version int64, key string, results []service.AvailabilityResult) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, entryKey(tenantID, version, key), raw, c.ttl)
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, tenantID uuid.UUID) error {
	v, err := c.redis.Incr(ctx, versionKey(tenantID))
	if err != nil {
		return err
	}
	c.log.Debug("кэш доступности сброшен", zap.String("tenant_id", tenantID.String()), zap.Int64("version", v))
	return nil
}
