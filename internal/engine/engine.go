package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/marketdata"
	"github.com/pegmark/pegmark/internal/models"
	"github.com/pegmark/pegmark/internal/pricing"
	"github.com/pegmark/pegmark/internal/signals"
)

// ErrInsufficientData is returned when the feature builder ends up with an
// empty series for the configured smoothing window. No partial or default
// price is fabricated in that case.
var ErrInsufficientData = errors.New("not enough data points for the requested smoothing window")

// Run is the outcome of one pricing pipeline execution: one result per
// configured product, in configuration order.
type Run struct {
	ID        uuid.UUID        `json:"id"`
	StartedAt time.Time        `json:"started_at"`
	Condition string           `json:"market_condition"`
	Results   []pricing.Result `json:"results"`
}

// Engine wires a market data provider, the feature builder, guardrails and a
// strategy together to price every configured product.
type Engine struct {
	cfg      *config.Config
	source   marketdata.Provider
	strategy *pricing.Strategy
	logger   *logrus.Logger
}

// New creates an engine. A nil strategy falls back to the balanced default;
// a nil logger falls back to the logrus standard logger.
func New(cfg *config.Config, source marketdata.Provider, strategy *pricing.Strategy, logger *logrus.Logger) *Engine {
	if strategy == nil {
		strategy = pricing.NewStrategy(pricing.ConditionBalanced)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:      cfg,
		source:   source,
		strategy: strategy,
		logger:   logger,
	}
}

// Run loads the market data series from the provider and prices every
// configured product against it. Provider failures surface unchanged; the
// engine never retries on its own.
func (e *Engine) Run(ctx context.Context) (*Run, error) {
	series, err := e.source.LoadSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load market data: %w", err)
	}
	return e.RunWithSeries(series)
}

// RunWithSeries prices every configured product against an already loaded
// series. The dashboard uses it to reprice after product edits without
// re-fetching market data.
func (e *Engine) RunWithSeries(series []models.PricePoint) (*Run, error) {
	features, err := signals.BuildFeatures(series, e.cfg.SmoothingWindow)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, ErrInsufficientData
	}

	e.logger.WithFields(logrus.Fields{
		"points":           len(series),
		"feature_rows":     len(features),
		"market_condition": string(e.strategy.Condition),
		"products":         len(e.cfg.Products),
	}).Debug("Pricing products against feature series")

	results := make([]pricing.Result, 0, len(e.cfg.Products))
	for _, product := range e.cfg.Products {
		result, err := e.strategy.Price(product, e.cfg.Guardrails, features)
		if err != nil {
			// A single failing product aborts the whole run so callers always
			// get one result per configured product or none at all.
			return nil, fmt.Errorf("failed to price product %q: %w", product.Name, err)
		}
		results = append(results, result)
	}

	return &Run{
		ID:        uuid.New(),
		StartedAt: time.Now().UTC(),
		Condition: string(e.strategy.Condition),
		Results:   results,
	}, nil
}

// HistoryPoint carries the recommended price of every product at one feature
// timestamp.
type HistoryPoint struct {
	Timestamp time.Time                  `json:"timestamp"`
	Prices    map[string]decimal.Decimal `json:"prices"`
}

// History re-applies the strategy over each expanding feature window so the
// dashboard can chart how recommended prices would have evolved across the
// series. The last point matches what RunWithSeries returns for the same
// input.
func (e *Engine) History(series []models.PricePoint) ([]HistoryPoint, error) {
	features, err := signals.BuildFeatures(series, e.cfg.SmoothingWindow)
	if err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, ErrInsufficientData
	}

	history := make([]HistoryPoint, 0, len(features))
	for i := range features {
		window := features[:i+1]
		point := HistoryPoint{
			Timestamp: features[i].Timestamp,
			Prices:    make(map[string]decimal.Decimal, len(e.cfg.Products)),
		}
		for _, product := range e.cfg.Products {
			result, err := e.strategy.Price(product, e.cfg.Guardrails, window)
			if err != nil {
				return nil, fmt.Errorf("failed to price product %q at %s: %w",
					product.Name, features[i].Timestamp.Format(time.RFC3339), err)
			}
			point.Prices[product.Name] = result.RecommendedPrice
		}
		history = append(history, point)
	}

	return history, nil
}
