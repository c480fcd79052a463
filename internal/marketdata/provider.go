package marketdata

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
	"github.com/pegmark/pegmark/internal/utils"
)

// Provider supplies an ordered price series for the reference asset. Series
// are sorted ascending by timestamp before they are returned.
type Provider interface {
	LoadSeries(ctx context.Context) ([]models.PricePoint, error)
}

// NewProvider returns the best matching provider for the configuration.
// csvFallback overrides the configured CSV path; the CLI uses it for the
// --data flag.
func NewProvider(cfg config.DataSourceConfig, csvFallback string, logger *logrus.Logger) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "coinmarketcap":
		return NewCoinMarketCapProvider(cfg, logger)
	case "csv":
		path := cfg.CSVPath
		if csvFallback != "" {
			path = csvFallback
		}
		if path == "" {
			return nil, utils.NewValidationError("csv provider requires a csv_path or an explicit data file")
		}
		return NewCSVProvider(path), nil
	}
	return nil, utils.NewValidationErrorf("unsupported data provider: %s", cfg.Provider)
}

// sortSeries orders a series ascending by timestamp in place.
func sortSeries(series []models.PricePoint) {
	sort.Slice(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
}
