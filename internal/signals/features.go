package signals

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"

	"github.com/pegmark/pegmark/internal/models"
)

// BuildFeatures converts a raw price series into a feature series. For each
// position where every rolling window is fully populated it emits the simple
// moving average of the price, the percentage change over the window, the
// rolling volatility of log returns, and the short-vs-long moving average
// trend strength. Positions with any undefined value are dropped, so the
// returned series is contiguous but shorter than the input.
//
// The input series must be sorted ascending by timestamp; providers take care
// of that on ingestion. The same series and window always produce the same
// output.
func BuildFeatures(prices []models.PricePoint, window int) ([]models.FeatureRow, error) {
	if window < 2 {
		return nil, fmt.Errorf("smoothing window must be at least 2, got %d", window)
	}

	n := len(prices)
	// Momentum needs a full window of history behind each row, so the first
	// candidate position is index `window`.
	if n <= window {
		return []models.FeatureRow{}, nil
	}

	raw := make([]float64, n)
	for i, point := range prices {
		raw[i] = point.Price
	}

	shortWindow := window / 2
	if shortWindow < 2 {
		shortWindow = 2
	}

	longMA := rollingMean(raw, window)
	shortMA := rollingMean(raw, shortWindow)
	logReturns := maskedLogReturns(raw)

	rows := make([]models.FeatureRow, 0, n-window)
	for i := window; i < n; i++ {
		long := longMA[i-window+1]
		if long == 0 {
			// Undefined trend denominator, drop the row.
			continue
		}
		if raw[i-window] == 0 {
			// Undefined momentum denominator, drop the row.
			continue
		}

		rows = append(rows, models.FeatureRow{
			Timestamp:     prices[i].Timestamp,
			Price:         raw[i],
			SmoothedPrice: long,
			Momentum:      raw[i]/raw[i-window] - 1,
			Volatility:    populationStd(logReturns[i-window+1:i+1]) * math.Sqrt(float64(window)),
			TrendStrength: (shortMA[i-shortWindow+1] - long) / long,
		})
	}

	return rows, nil
}

// rollingMean computes a simple moving average. The result has
// len(values)-period+1 entries; entry j covers values[j..j+period-1].
func rollingMean(values []float64, period int) []float64 {
	sma := trend.NewSmaWithPeriod[float64](period)
	return helper.ChanToSlice(sma.Compute(helper.SliceToChan(values)))
}

// maskedLogReturns computes ln(P[t]/P[t-1]) for each position, mapping
// undefined ratios to a neutral 0 return: the first position has no
// predecessor, a zero numerator or denominator makes the ratio degenerate,
// and non-finite logs are masked the same way. A zero price tick therefore
// smooths over as a flat return instead of poisoning the volatility window.
func maskedLogReturns(prices []float64) []float64 {
	returns := make([]float64, len(prices))
	for t := 1; t < len(prices); t++ {
		if prices[t-1] == 0 {
			continue
		}
		ratio := prices[t] / prices[t-1]
		if ratio <= 0 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
			continue
		}
		r := math.Log(ratio)
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		returns[t] = r
	}
	return returns
}

// populationStd is the standard deviation with divisor len(values), not
// len(values)-1.
func populationStd(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var squared float64
	for _, v := range values {
		d := v - mean
		squared += d * d
	}
	return math.Sqrt(squared / float64(len(values)))
}
