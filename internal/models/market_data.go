package models

import (
	"time"
)

// PricePoint represents one observation of the reference asset price.
// Series handed to the feature builder are sorted ascending by timestamp.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// FeatureRow represents one timestamped set of derived signals used as
// strategy input. A row exists only where every rolling window behind it is
// fully populated.
type FeatureRow struct {
	Timestamp     time.Time `json:"timestamp"`
	Price         float64   `json:"price"`
	SmoothedPrice float64   `json:"smoothed_price"`
	Momentum      float64   `json:"momentum"`
	Volatility    float64   `json:"volatility"`
	TrendStrength float64   `json:"trend_strength"`
}
