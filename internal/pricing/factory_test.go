package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStrategy(t *testing.T) {
	tests := []struct {
		label         string
		wantCondition MarketCondition
		wantRisk      float64
	}{
		{"balanced", ConditionBalanced, 1.0},
		{"default", ConditionBalanced, 1.0},
		{"volatility_aware", ConditionBalanced, 1.0},
		{"bull", ConditionBull, 0.7},
		{"bear", ConditionBear, 1.6},
		{"bearish", ConditionBear, 1.6},
		{"lateral", ConditionLateral, 1.0},
		{"sideways", ConditionLateral, 1.0},
		{"penetration", ConditionPenetration, 0.9},
		{"market_penetration", ConditionPenetration, 0.9},
		{"competitor", ConditionCompetitorMatch, 1.2},
		{"competitor_match", ConditionCompetitorMatch, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			strategy, err := BuildStrategy(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCondition, strategy.Condition)
			assert.Equal(t, tt.wantRisk, strategy.RiskAversion)
		})
	}
}

func TestBuildStrategy_NormalizesLabel(t *testing.T) {
	for _, label := range []string{"BULL", " bull ", "Bull", "\tbull\n"} {
		strategy, err := BuildStrategy(label)
		require.NoError(t, err, "label %q", label)
		assert.Equal(t, ConditionBull, strategy.Condition)
	}
}

func TestBuildStrategy_EmptyDefaultsToBalanced(t *testing.T) {
	for _, label := range []string{"", "   "} {
		strategy, err := BuildStrategy(label)
		require.NoError(t, err)
		assert.Equal(t, ConditionBalanced, strategy.Condition)
	}
}

func TestBuildStrategy_UnsupportedLabel(t *testing.T) {
	for _, label := range []string{"moon", "bullish", "match"} {
		strategy, err := BuildStrategy(label)
		require.Error(t, err, "label %q", label)
		assert.Nil(t, strategy)
		assert.Contains(t, err.Error(), "unsupported market condition")
		assert.Contains(t, err.Error(), label)
	}
}

func TestConditionLabels_CoversAllConditions(t *testing.T) {
	labels := ConditionLabels()
	require.Len(t, labels, 6)

	// Every advertised alias must round-trip through the factory.
	for condition, aliases := range labels {
		require.NotEmpty(t, aliases)
		for _, alias := range aliases {
			strategy, err := BuildStrategy(alias)
			require.NoError(t, err, "alias %q", alias)
			assert.Equal(t, condition, strategy.Condition)
		}
	}
}
