package optimizer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/advisor"
)

type stubAdvisor struct {
	pred *advisor.Prediction
	err  error
	got  []advisor.Feature
}

func (s *stubAdvisor) Predict(_ context.Context, f []advisor.Feature) (*advisor.Prediction, error) {
	s.got = f
	return s.pred, s.err
}

func sum(xs []float64) float64 {
	t := 0.0
	for _, x := range xs {
		t += x
	}
	return t
}

var (
	aapl = Asset{Symbol: "AAPL", Prices: []float64{100, 102, 101, 105, 103, 108, 110}}
	msft = Asset{Symbol: "MSFT", Prices: []float64{200, 198, 205, 203, 210, 207, 212}}
	gld  = Asset{Symbol: "GLD", Prices: []float64{150, 151, 149, 150, 148, 149, 147}}
)

func TestWeights_SumToOne(t *testing.T) {
	w, err := Weights(Describe([]Asset{aapl, msft, gld}))
	require.NoError(t, err)
	require.Len(t, w, 3)
	assert.InDelta(t, 1.0, sum(w), 1e-6)
}

func TestWeights_MatchesHeuristic(t *testing.T) {
	stats := Describe([]Asset{aapl, gld})
	w, err := Weights(stats)
	require.NoError(t, err)

	total := stats[0].Risk + stats[1].Risk
	b0 := stats[0].Risk / total * (1 + stats[0].SharpeRatio/2)
	b1 := stats[1].Risk / total * (1 + stats[1].SharpeRatio/2)
	// With two assets the correlation penalty is the same factor on both, so
	// it cancels in normalization.
	assert.InDelta(t, b0/(b0+b1), w[0], 1e-9)
	assert.InDelta(t, b1/(b0+b1), w[1], 1e-9)
}

func TestWeights_SingleAsset(t *testing.T) {
	w, err := Weights(Describe([]Asset{aapl}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, w)
}

func TestWeights_Empty(t *testing.T) {
	_, err := Weights(nil)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestWeights_ZeroRiskFallsBackToEqual(t *testing.T) {
	flat := []Asset{
		{Symbol: "A", Prices: []float64{10, 10, 10}},
		{Symbol: "B", Prices: []float64{20, 20, 20}},
		{Symbol: "C", Prices: []float64{30, 30, 30}},
	}
	w, err := Weights(Describe(flat))
	require.NoError(t, err)
	for _, x := range w {
		assert.InDelta(t, 1.0/3, x, 1e-12)
	}
}

func TestWeights_PerfectCorrelationStaysFinite(t *testing.T) {
	twin := Asset{Symbol: "AAPL2", Prices: make([]float64, len(aapl.Prices))}
	for i, p := range aapl.Prices {
		twin.Prices[i] = p * 2
	}
	w, err := Weights(Describe([]Asset{aapl, twin}))
	require.NoError(t, err)
	for _, x := range w {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
	assert.InDelta(t, 1.0, sum(w), 1e-6)
}

func TestOptimize_TraditionalOnly(t *testing.T) {
	res, err := New(nil).Optimize(context.Background(), []Asset{aapl, msft})
	require.NoError(t, err)
	assert.Equal(t, SourceTraditional, res.Source)
	assert.Equal(t, []string{"AAPL", "MSFT"}, res.Symbols)
	assert.Equal(t, res.TraditionalWeights, res.Weights)
	assert.Empty(t, res.Analysis)
}

func TestOptimize_AdvisorFailureFallsBack(t *testing.T) {
	adv := &stubAdvisor{err: errors.New("timeout")}
	res, err := New(adv).Optimize(context.Background(), []Asset{aapl, msft})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, res.Source)
	assert.Equal(t, FallbackNotice, res.Analysis)
	assert.Equal(t, res.TraditionalWeights, res.Weights)
}

func TestOptimize_UsesAdvisorWeights(t *testing.T) {
	adv := &stubAdvisor{pred: &advisor.Prediction{Weights: []float64{0.7, 0.3}, Analysis: "why", Source: "gemini"}}
	res, err := New(adv).Optimize(context.Background(), []Asset{aapl, msft})
	require.NoError(t, err)
	assert.Equal(t, "ai:gemini", res.Source)
	assert.Equal(t, []float64{0.7, 0.3}, res.Weights)
	assert.Equal(t, "why", res.Analysis)
	require.Len(t, adv.got, 2)
	assert.Equal(t, "AAPL", adv.got[0].Symbol)
	assert.Len(t, adv.got[0].Returns, len(aapl.Prices)-1)
}

func TestRebalance(t *testing.T) {
	holdings := []Holding{{Symbol: "A", Value: 6000}, {Symbol: "B", Value: 3000}, {Symbol: "C", Value: 1000}}
	recs := Rebalance(holdings, []float64{0.5, 0.31, 0.19})
	require.Len(t, recs, 3)

	assert.Equal(t, ActionSell, recs[0].Action)
	assert.InDelta(t, 0.6, recs[0].CurrentWeight, 1e-12)
	assert.InDelta(t, 1000, recs[0].ActionValue, 1e-6)

	assert.Equal(t, ActionHold, recs[1].Action) // +1% is inside the band
	assert.Equal(t, ActionBuy, recs[2].Action)
	assert.InDelta(t, 900, recs[2].ActionValue, 1e-6)
}

func TestRebalance_EmptyPortfolio(t *testing.T) {
	recs := Rebalance([]Holding{{Symbol: "A"}}, []float64{1})
	require.Len(t, recs, 1)
	assert.Equal(t, 0.0, recs[0].CurrentWeight)
	assert.Equal(t, 0.0, recs[0].ActionValue)
}
