package marketdata

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/cache"
	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
)

// CachedProvider wraps a Provider with the Redis series cache. Cache lookups
// and writes are best effort; only the inner provider's errors surface to the
// caller.
type CachedProvider struct {
	inner  Provider
	cache  *cache.SeriesCache
	key    string
	logger *logrus.Logger
}

// NewCachedProvider wraps the inner provider. The cache key is derived from
// the data-source configuration so different assets, currencies and lookback
// windows never collide.
func NewCachedProvider(inner Provider, seriesCache *cache.SeriesCache, cfg config.DataSourceConfig, logger *logrus.Logger) *CachedProvider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedProvider{
		inner:  inner,
		cache:  seriesCache,
		key:    SeriesCacheKey(cfg),
		logger: logger,
	}
}

// SeriesCacheKey builds the cache key for a data-source configuration.
func SeriesCacheKey(cfg config.DataSourceConfig) string {
	return fmt.Sprintf("%s:%s:%s:%dh", cfg.Provider, cfg.Asset, cfg.VsCurrency, cfg.LookbackHours)
}

// LoadSeries returns the cached series when present, otherwise delegates to
// the inner provider and stores the result.
func (p *CachedProvider) LoadSeries(ctx context.Context) ([]models.PricePoint, error) {
	if series, ok := p.cache.Get(ctx, p.key); ok {
		p.logger.WithFields(logrus.Fields{
			"key":    p.key,
			"points": len(series),
		}).Debug("Serving market data series from cache")
		return series, nil
	}

	series, err := p.inner.LoadSeries(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.cache.Set(ctx, p.key, series); err != nil {
		p.logger.WithFields(logrus.Fields{
			"key": p.key,
		}).Warnf("Failed to cache market data series: %v", err)
	}

	return series, nil
}
