package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
)

// SeriesCacheEntry represents a cached price series with metadata.
type SeriesCacheEntry struct {
	Series    []models.PricePoint `json:"series"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// SeriesCacheStats tracks cache performance counters.
type SeriesCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`

	mu sync.RWMutex
}

// SeriesCache stores fetched market-data series in Redis so repeated
// dashboard runs do not hammer the upstream API. It is strictly best effort:
// every Redis failure is logged and reported as a miss.
type SeriesCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *SeriesCacheStats
	prefix string
	logger *logrus.Logger
}

// NewSeriesCache creates a Redis-backed series cache.
func NewSeriesCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *SeriesCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SeriesCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &SeriesCacheStats{},
		prefix: "series_cache:",
		logger: logger,
	}
}

// NewRedisConnection opens a Redis client from configuration and verifies the
// connection with a ping.
func NewRedisConnection(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return rdb, nil
}

// Get retrieves a cached series. The second return value reports whether the
// lookup was a usable hit.
func (c *SeriesCache) Get(ctx context.Context, key string) ([]models.PricePoint, bool) {
	cacheKey := c.prefix + key

	data, err := c.redis.Get(ctx, cacheKey).Result()
	if err == redis.Nil {
		c.recordMiss()
		return nil, false
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"key": key,
		}).Warnf("Redis error getting cached series: %v", err)
		c.recordMiss()
		return nil, false
	}

	var entry SeriesCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key": key,
		}).Warnf("Error deserializing cached series: %v", err)
		c.recordMiss()
		return nil, false
	}

	// Additional expiry check beyond the Redis TTL
	if time.Now().After(entry.ExpiresAt) {
		c.recordMiss()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()
	return entry.Series, true
}

// Set stores a series under the given key with the cache TTL.
func (c *SeriesCache) Set(ctx context.Context, key string, series []models.PricePoint) error {
	now := time.Now()
	entry := SeriesCacheEntry{
		Series:    series,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize series for cache: %w", err)
	}

	if err := c.redis.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache series: %w", err)
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *SeriesCache) Stats() SeriesCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return SeriesCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

// HealthCheck pings the underlying Redis connection.
func (c *SeriesCache) HealthCheck(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func (c *SeriesCache) recordMiss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
