package pricing

import (
	"fmt"
	"strings"
)

// BuildStrategy returns a strategy tuned for the requested market condition.
// Labels are matched case-insensitively with surrounding whitespace trimmed;
// an empty label selects the balanced default.
func BuildStrategy(label string) (*Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if normalized == "" {
		normalized = "balanced"
	}

	switch normalized {
	case "balanced", "default", "volatility_aware":
		return NewStrategy(ConditionBalanced), nil
	case "bull":
		return NewStrategy(ConditionBull), nil
	case "bear", "bearish":
		return NewStrategy(ConditionBear), nil
	case "lateral", "sideways":
		return NewStrategy(ConditionLateral), nil
	case "penetration", "market_penetration":
		return NewStrategy(ConditionPenetration), nil
	case "competitor", "competitor_match":
		return NewStrategy(ConditionCompetitorMatch), nil
	}

	return nil, fmt.Errorf("unsupported market condition: %q", label)
}

// ConditionLabels lists the canonical labels and their aliases, for CLI help
// output and dashboard dropdowns.
func ConditionLabels() map[MarketCondition][]string {
	return map[MarketCondition][]string{
		ConditionBalanced:        {"balanced", "default", "volatility_aware"},
		ConditionBull:            {"bull"},
		ConditionBear:            {"bear", "bearish"},
		ConditionLateral:         {"lateral", "sideways"},
		ConditionPenetration:     {"penetration", "market_penetration"},
		ConditionCompetitorMatch: {"competitor", "competitor_match"},
	}
}
