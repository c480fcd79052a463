package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"github.com/pegmark/pegmark/internal/config"
	"github.com/pegmark/pegmark/internal/models"
)

// MarketCondition names one of the closed set of pricing regimes. The six
// conditions are enumerable and final; adding one means touching the
// adjustment switch below, not subclassing anything.
type MarketCondition string

const (
	ConditionBalanced        MarketCondition = "balanced"
	ConditionBull            MarketCondition = "bull"
	ConditionBear            MarketCondition = "bear"
	ConditionLateral         MarketCondition = "lateral"
	ConditionPenetration     MarketCondition = "penetration"
	ConditionCompetitorMatch MarketCondition = "competitor_match"
)

// Per-regime tuning constants. Risk aversion scales the volatility penalty;
// the weights scale each regime's adjustment term.
const (
	balancedRiskAversion    = 1.0
	bullRiskAversion        = 0.7
	bearRiskAversion        = 1.6
	lateralRiskAversion     = 1.0
	penetrationRiskAversion = 0.9
	competitorRiskAversion  = 1.2

	upsideWeight      = 0.4
	downsideWeight    = 0.5
	compressionWeight = 0.2
	penetrationWeight = 0.35
	matchWeight       = 0.7
	undercut          = 0.01
)

// ErrNoFeatures is returned when a strategy is asked to price against an
// empty feature series.
var ErrNoFeatures = errors.New("no feature rows available for pricing")

// Result is the outcome of pricing one product against the latest feature
// row. It is never mutated after creation.
type Result struct {
	Product          config.ProductConfig `json:"product"`
	Markup           float64              `json:"markup"`
	RecommendedPrice decimal.Decimal      `json:"recommended_price"`
	Signals          map[string]float64   `json:"signals"`
}

// Strategy computes a clamped markup for a product from the latest feature
// row. All six regimes share the same base computation and differ only in
// their risk aversion and regime adjustment, so a Strategy is a condition tag
// plus a risk-aversion knob. Price is a pure function of its inputs.
type Strategy struct {
	Condition    MarketCondition
	RiskAversion float64
}

// NewStrategy creates a strategy with the default risk aversion for the
// given market condition.
func NewStrategy(condition MarketCondition) *Strategy {
	return &Strategy{
		Condition:    condition,
		RiskAversion: defaultRiskAversion(condition),
	}
}

func defaultRiskAversion(condition MarketCondition) float64 {
	switch condition {
	case ConditionBull:
		return bullRiskAversion
	case ConditionBear:
		return bearRiskAversion
	case ConditionLateral:
		return lateralRiskAversion
	case ConditionPenetration:
		return penetrationRiskAversion
	case ConditionCompetitorMatch:
		return competitorRiskAversion
	default:
		return balancedRiskAversion
	}
}

// Price evaluates the strategy for one product against the most recent
// feature row. The returned signals map always carries volatility, momentum,
// trend_strength, the pre-clamp raw_markup and the regime adjustment term.
func (s *Strategy) Price(product config.ProductConfig, guardrails config.GuardrailConfig, features []models.FeatureRow) (Result, error) {
	if len(features) == 0 {
		return Result{}, ErrNoFeatures
	}

	latest := features[len(features)-1]

	trendBonus := product.Elasticity * latest.TrendStrength
	momentumBonus := 0.5 * product.Elasticity * latest.Momentum
	volatilityPenalty := s.volatilityPenalty(latest.Volatility, guardrails)

	adjustment := s.regimeAdjustment(product, latest)

	rawMarkup := product.TargetMargin + trendBonus + momentumBonus - volatilityPenalty + adjustment
	markup := ClampMarkup(rawMarkup, guardrails)
	price := decimal.NewFromFloat(product.BasePriceUSD * (1 + markup)).Round(2)

	return Result{
		Product:          product,
		Markup:           markup,
		RecommendedPrice: price,
		Signals: map[string]float64{
			"volatility":        latest.Volatility,
			"momentum":          latest.Momentum,
			"trend_strength":    latest.TrendStrength,
			"raw_markup":        rawMarkup,
			"regime_adjustment": adjustment,
		},
	}, nil
}

// volatilityPenalty scales from 0 at the guardrail floor to RiskAversion at
// the ceiling and saturates above it.
func (s *Strategy) volatilityPenalty(volatility float64, guardrails config.GuardrailConfig) float64 {
	if volatility <= guardrails.VolatilityFloor {
		return 0
	}
	span := guardrails.VolatilityCeiling - guardrails.VolatilityFloor
	if span < 1e-6 {
		span = 1e-6
	}
	normalized := (volatility - guardrails.VolatilityFloor) / span
	if normalized > 1 {
		normalized = 1
	}
	return normalized * s.RiskAversion
}

func (s *Strategy) regimeAdjustment(product config.ProductConfig, latest models.FeatureRow) float64 {
	switch s.Condition {
	case ConditionBull:
		// Amplify upside capture when the market trends upward.
		upside := math.Max(0, latest.TrendStrength) + math.Max(0, latest.Momentum)
		return upsideWeight * product.Elasticity * upside

	case ConditionBear:
		// Protect margin when the market sells off.
		downside := math.Abs(math.Min(0, latest.TrendStrength)) + math.Abs(math.Min(0, latest.Momentum))
		return -downsideWeight * (product.Elasticity + 0.1) * downside

	case ConditionLateral:
		// Keep pricing tight during sideways consolidation.
		drift := math.Abs(latest.Momentum) + math.Abs(latest.TrendStrength)
		return -compressionWeight * drift * (product.Elasticity / 2)

	case ConditionPenetration:
		// Discount to gain share; volatile markets earn a smaller discount.
		volatilityPressure := math.Min(1, math.Max(0, latest.Volatility*8))
		elasticityFactor := math.Max(0.1, product.Elasticity)
		return -penetrationWeight * elasticityFactor * (1 - 0.5*volatilityPressure)

	case ConditionCompetitorMatch:
		if product.CompetitorPriceUSD == nil || *product.CompetitorPriceUSD <= 0 {
			return 0
		}
		competitorMarkup := *product.CompetitorPriceUSD/product.BasePriceUSD - 1
		desiredMarkup := competitorMarkup - undercut
		return matchWeight * (desiredMarkup - product.TargetMargin)

	default:
		return 0
	}
}

// ClampMarkup bounds a raw markup into the guardrail interval. Total
// function, no error conditions.
func ClampMarkup(raw float64, guardrails config.GuardrailConfig) float64 {
	if raw < guardrails.MinMarkup {
		return guardrails.MinMarkup
	}
	if raw > guardrails.MaxMarkup {
		return guardrails.MaxMarkup
	}
	return raw
}
