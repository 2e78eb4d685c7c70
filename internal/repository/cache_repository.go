package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/parnia-edu/parnia-api/pkg/errors"
)

// scanBatchSize controls how many keys SCAN returns per round trip
// during pattern invalidation.
const scanBatchSize = 100

// cacheMetrics receives hit and miss observations from lookups. A nil
// implementation disables recording.
type cacheMetrics interface {
	RecordCacheOperation(hit bool)
}

// CacheRepository wraps Redis for caching catalogue listings. A nil client
// degrades to a pass-through so the API runs without Redis.
type CacheRepository struct {
	client  *redis.Client
	metrics cacheMetrics
	logger  *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, metrics cacheMetrics, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, metrics: metrics, logger: logger}
}

func (r *CacheRepository) observe(hit bool) {
	if r.metrics != nil {
		r.metrics.RecordCacheOperation(hit)
	}
}

// Get retrieves and unmarshals the cached value into dest. A missing
// key and a disabled cache both report ErrCacheMiss.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		r.observe(false)
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.observe(false)
		return appErrors.ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		// A stale or corrupt entry should behave like a miss so the
		// caller reloads from the database.
		r.logger.Warn("cache entry unreadable, treating as miss",
			zap.String("key", key), zap.Error(err))
		r.observe(false)
		return appErrors.ErrCacheMiss
	}

	r.observe(true)
	return nil
}

// Set marshals the value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// DeleteByPattern removes cached entries matching the pattern. Mutating
// operations call this to keep listings consistent with the database.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	removed := 0
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	if removed > 0 {
		r.logger.Debug("cache invalidated",
			zap.String("pattern", pattern), zap.Int("keys", removed))
	}
	return nil
}

// Close releases the Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
