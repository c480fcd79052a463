package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
)

func testGuardrails() config.GuardrailConfig {
	return config.GuardrailConfig{
		MinMarkup:         0.1,
		MaxMarkup:         0.8,
		VolatilityFloor:   0.01,
		VolatilityCeiling: 0.3,
	}
}

func testProduct() config.ProductConfig {
	return config.ProductConfig{
		Name:         "Hosted Node",
		BasePriceUSD: 100,
		TargetMargin: 0.3,
		Elasticity:   0.5,
	}
}

func featureRow(volatility, momentum, trend float64) []models.FeatureRow {
	return []models.FeatureRow{{
		Timestamp:     time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Price:         30000,
		SmoothedPrice: 29900,
		Volatility:    volatility,
		Momentum:      momentum,
		TrendStrength: trend,
	}}
}

func TestClampMarkup(t *testing.T) {
	guardrails := testGuardrails()

	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"within range", 0.35, 0.35},
		{"below min", -2.5, 0.1},
		{"above max", 4.2, 0.8},
		{"at min", 0.1, 0.1},
		{"at max", 0.8, 0.8},
		{"negative infinity", math.Inf(-1), 0.1},
		{"positive infinity", math.Inf(1), 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampMarkup(tt.raw, guardrails)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, guardrails.MinMarkup)
			assert.LessOrEqual(t, got, guardrails.MaxMarkup)
		})
	}
}

func TestStrategyPrice_BalancedBaseComputation(t *testing.T) {
	strategy := NewStrategy(ConditionBalanced)

	result, err := strategy.Price(testProduct(), testGuardrails(), featureRow(0.05, 0.02, 0.01))
	require.NoError(t, err)

	// target_margin + 0.5*0.01 + 0.5*0.5*0.02 - ((0.05-0.01)/0.29)*1.0
	assert.InDelta(t, 0.1720689655, result.Markup, 1e-9)
	assert.Equal(t, "117.21", result.RecommendedPrice.StringFixed(2))
	assert.InDelta(t, 0.1720689655, result.Signals["raw_markup"], 1e-9)
	assert.Zero(t, result.Signals["regime_adjustment"])

	for _, key := range []string{"volatility", "momentum", "trend_strength", "raw_markup", "regime_adjustment"} {
		assert.Contains(t, result.Signals, key)
	}
}

func TestStrategyPrice_EmptyFeatures(t *testing.T) {
	strategy := NewStrategy(ConditionBalanced)

	_, err := strategy.Price(testProduct(), testGuardrails(), nil)
	assert.ErrorIs(t, err, ErrNoFeatures)
}

func TestStrategyPrice_RecommendedPriceRounding(t *testing.T) {
	product := testProduct()
	product.BasePriceUSD = 333.33

	strategy := NewStrategy(ConditionBalanced)
	result, err := strategy.Price(product, testGuardrails(), featureRow(0.0, 0.0, 0.0))
	require.NoError(t, err)

	// markup clamps to the raw 0.3 target margin; 333.33 * 1.3 = 433.329
	assert.InDelta(t, 0.3, result.Markup, 1e-12)
	assert.Equal(t, "433.33", result.RecommendedPrice.StringFixed(2))
}

func TestStrategyPrice_VolatilityMonotonicity(t *testing.T) {
	strategy := NewStrategy(ConditionBalanced)
	product := testProduct()
	guardrails := testGuardrails()

	previous := math.Inf(1)
	for _, volatility := range []float64{0.005, 0.02, 0.08, 0.15, 0.3, 0.6} {
		result, err := strategy.Price(product, guardrails, featureRow(volatility, 0.02, 0.01))
		require.NoError(t, err)
		assert.LessOrEqual(t, result.Markup, previous, "volatility %v", volatility)
		previous = result.Markup
	}
}

func TestStrategyPrice_PenaltySaturatesAboveCeiling(t *testing.T) {
	strategy := NewStrategy(ConditionBalanced)

	atCeiling, err := strategy.Price(testProduct(), testGuardrails(), featureRow(0.3, 0.02, 0.01))
	require.NoError(t, err)
	far, err := strategy.Price(testProduct(), testGuardrails(), featureRow(3.0, 0.02, 0.01))
	require.NoError(t, err)

	assert.InDelta(t, atCeiling.Markup, far.Markup, 1e-12)
}

func TestStrategyPrice_RegimeOrdering(t *testing.T) {
	product := testProduct()
	guardrails := config.GuardrailConfig{
		MinMarkup:         -1,
		MaxMarkup:         2,
		VolatilityFloor:   0.01,
		VolatilityCeiling: 0.3,
	}

	rowSets := [][]models.FeatureRow{
		featureRow(0.05, 0.02, 0.01),
		featureRow(0.12, -0.04, -0.02),
		featureRow(0.02, 0.0, 0.0),
	}

	for _, rows := range rowSets {
		bull, err := NewStrategy(ConditionBull).Price(product, guardrails, rows)
		require.NoError(t, err)
		balanced, err := NewStrategy(ConditionBalanced).Price(product, guardrails, rows)
		require.NoError(t, err)
		bear, err := NewStrategy(ConditionBear).Price(product, guardrails, rows)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, bull.Markup, balanced.Markup)
		assert.GreaterOrEqual(t, balanced.Markup, bear.Markup)
	}
}

func TestStrategyPrice_PenetrationDiscountsAgainstBalanced(t *testing.T) {
	product := testProduct()
	guardrails := config.GuardrailConfig{
		MinMarkup:         -1,
		MaxMarkup:         2,
		VolatilityFloor:   0.01,
		VolatilityCeiling: 0.3,
	}

	penetration := NewStrategy(ConditionPenetration)
	balanced := NewStrategy(ConditionBalanced)
	// Equal risk aversion isolates the discount term.
	penetration.RiskAversion = balanced.RiskAversion

	for _, rows := range [][]models.FeatureRow{
		featureRow(0.0, 0.0, 0.0),
		featureRow(0.05, 0.02, 0.01),
		featureRow(0.5, -0.1, -0.05),
	} {
		p, err := penetration.Price(product, guardrails, rows)
		require.NoError(t, err)
		b, err := balanced.Price(product, guardrails, rows)
		require.NoError(t, err)
		assert.LessOrEqual(t, p.Markup, b.Markup)
	}
}

func TestStrategyPrice_LateralCompressesDrift(t *testing.T) {
	product := testProduct()
	guardrails := config.GuardrailConfig{MinMarkup: -1, MaxMarkup: 2, VolatilityFloor: 0.01, VolatilityCeiling: 0.3}

	lateral := NewStrategy(ConditionLateral)

	calm, err := lateral.Price(product, guardrails, featureRow(0.0, 0.0, 0.0))
	require.NoError(t, err)
	drifting, err := lateral.Price(product, guardrails, featureRow(0.0, 0.06, 0.03))
	require.NoError(t, err)

	// The compression term pulls against the trend/momentum bonuses.
	assert.InDelta(t, -compressionWeight*(0.06+0.03)*(product.Elasticity/2), drifting.Signals["regime_adjustment"], 1e-12)
	assert.Zero(t, calm.Signals["regime_adjustment"])
}

func TestStrategyPrice_CompetitorMatch(t *testing.T) {
	guardrails := config.GuardrailConfig{MinMarkup: -1, MaxMarkup: 2, VolatilityFloor: 0.01, VolatilityCeiling: 0.3}
	rows := featureRow(0.02, 0.01, 0.005)

	t.Run("no reference price falls back to base computation", func(t *testing.T) {
		product := testProduct()
		match := NewStrategy(ConditionCompetitorMatch)
		match.RiskAversion = balancedRiskAversion

		got, err := match.Price(product, guardrails, rows)
		require.NoError(t, err)
		balanced, err := NewStrategy(ConditionBalanced).Price(product, guardrails, rows)
		require.NoError(t, err)

		assert.InDelta(t, balanced.Markup, got.Markup, 1e-12)
		assert.Zero(t, got.Signals["regime_adjustment"])
	})

	t.Run("tracks competitor markup minus undercut", func(t *testing.T) {
		product := testProduct()
		competitorPrice := product.BasePriceUSD * 1.05
		product.CompetitorPriceUSD = &competitorPrice

		match := NewStrategy(ConditionCompetitorMatch)
		match.RiskAversion = balancedRiskAversion

		got, err := match.Price(product, guardrails, rows)
		require.NoError(t, err)

		// desired = 1.05 - 1 - 0.01 = 0.04; delta = 0.04 - 0.30 = -0.26
		assert.InDelta(t, matchWeight*-0.26, got.Signals["regime_adjustment"], 1e-12)

		// A competitor discount below the target margin must pull the markup
		// under the balanced strategy's on the same data.
		balanced, err := NewStrategy(ConditionBalanced).Price(product, guardrails, rows)
		require.NoError(t, err)
		assert.Less(t, got.Markup, balanced.Markup)
	})

	t.Run("non-positive reference price is ignored", func(t *testing.T) {
		product := testProduct()
		zero := 0.0
		product.CompetitorPriceUSD = &zero

		match := NewStrategy(ConditionCompetitorMatch)
		got, err := match.Price(product, guardrails, rows)
		require.NoError(t, err)
		assert.Zero(t, got.Signals["regime_adjustment"])
	})
}

func TestStrategyPrice_Pure(t *testing.T) {
	strategy := NewStrategy(ConditionBull)
	rows := featureRow(0.07, 0.03, -0.01)

	first, err := strategy.Price(testProduct(), testGuardrails(), rows)
	require.NoError(t, err)
	second, err := strategy.Price(testProduct(), testGuardrails(), rows)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
