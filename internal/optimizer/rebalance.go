package optimizer

import (
	"math"
)

// RebalanceThreshold is the weight gap, as a fraction, beyond which a
// holding should be bought or sold.
const RebalanceThreshold = 0.02

// Suggestions.
const (
	ActionBuy  = "Buy"
	ActionSell = "Sell"
	ActionHold = "Hold"
)

// Holding is a current position by market value.
type Holding struct {
	Symbol string
	Value  float64
}

// Recommendation compares a holding's current and suggested weight.
type Recommendation struct {
	Symbol          string  `json:"symbol"`
	CurrentValue    float64 `json:"current_value"`
	CurrentWeight   float64 `json:"current_weight"`
	SuggestedWeight float64 `json:"suggested_weight"`
	Difference      float64 `json:"difference"`
	Action          string  `json:"action"`
	ActionValue     float64 `json:"action_value"`
}

// Rebalance pairs each holding with suggested[i]. Buy when the suggested
// weight exceeds the current one by more than RebalanceThreshold, Sell when
// it falls short by more, else Hold. ActionValue is total×|difference|.
func Rebalance(holdings []Holding, suggested []float64) []Recommendation {
	total := 0.0
	for _, h := range holdings {
		total += h.Value
	}

	out := make([]Recommendation, 0, len(holdings))
	for i, h := range holdings {
		current := 0.0
		if total > 0 {
			current = h.Value / total
		}
		target := 0.0
		if i < len(suggested) {
			target = suggested[i]
		}
		diff := target - current

		action := ActionHold
		switch {
		case diff > RebalanceThreshold:
			action = ActionBuy
		case diff < -RebalanceThreshold:
			action = ActionSell
		}

		out = append(out, Recommendation{
			Symbol:          h.Symbol,
			CurrentValue:    h.Value,
			CurrentWeight:   current,
			SuggestedWeight: target,
			Difference:      diff,
			Action:          action,
			ActionValue:     total * math.Abs(diff),
		})
	}
	return out
}
