package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/model"
)

const eps = 1e-9

func TestReturns_Length(t *testing.T) {
	assert.Empty(t, Returns(nil))
	assert.Empty(t, Returns([]float64{100}))
	for n := 2; n < 10; n++ {
		prices := make([]float64, n)
		for i := range prices {
			prices[i] = float64(100 + i)
		}
		assert.Len(t, Returns(prices), n-1)
	}
}

func TestReturns_Values(t *testing.T) {
	got := Returns([]float64{100, 110, 99, 0, 50})
	require.Len(t, got, 4)
	assert.InDelta(t, 0.1, got[0], eps)
	assert.InDelta(t, -0.1, got[1], eps)
	assert.InDelta(t, -1.0, got[2], eps)
	assert.Equal(t, 0.0, got[3], "return from a zero price is 0")
}

func TestStdDev(t *testing.T) {
	assert.Equal(t, 0.0, StdDev(nil))
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), eps)
	assert.True(t, math.IsNaN(StdDev([]float64{1, math.NaN(), 3})))
	assert.True(t, math.IsNaN(StdDev([]float64{1, math.Inf(1)})))
}

func TestSharpeRatio(t *testing.T) {
	assert.Equal(t, 0.0, SharpeRatio(nil, DefaultRiskFree))
	assert.Equal(t, 0.0, SharpeRatio([]float64{0.01, 0.01, 0.01}, DefaultRiskFree))

	rets := []float64{0.1, -0.2, 0.15, -0.05, 0.08}
	want := (stdMean(rets) - 0.02) / StdDev(rets)
	assert.InDelta(t, want, SharpeRatio(rets, 0.02), eps)
}

func stdMean(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func TestBeta(t *testing.T) {
	assert.Equal(t, 1.0, Beta(nil, []float64{0.1, 0.2}))
	assert.Equal(t, 1.0, Beta([]float64{0.1, 0.2}, nil))
	assert.Equal(t, 1.0, Beta([]float64{0.1, 0.2, 0.3}, []float64{0.05, 0.05, 0.05}))
	assert.Equal(t, 1.0, Beta([]float64{0.4}, []float64{0.2}), "single return is neutral")

	market := []float64{0.01, -0.02, 0.03, 0.00, 0.015}
	double := make([]float64, len(market))
	for i, m := range market {
		double[i] = 2 * m
	}
	assert.InDelta(t, 2.0, Beta(double, market), 1e-9)

	// Longer stock series is truncated to the market length.
	assert.InDelta(t, 2.0, Beta(append(double, 0.5, -0.5), market), 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	assert.Equal(t, 0.0, MaxDrawdown(nil))
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{100, 120, 60, 110}), eps)

	dd, at := MaxDrawdownAt([]float64{100, 120, 60, 110})
	assert.InDelta(t, 0.5, dd, eps)
	assert.Equal(t, 2, at)
}

func TestMaxDrawdown_MonotoneAndBounded(t *testing.T) {
	prices := []float64{50, 80, 100}
	prev := MaxDrawdown(prices)
	for _, p := range []float64{95, 90, 70, 40, 10, 1} {
		prices = append(prices, p)
		cur := MaxDrawdown(prices)
		assert.GreaterOrEqual(t, cur, prev)
		assert.GreaterOrEqual(t, cur, 0.0)
		assert.LessOrEqual(t, cur, 1.0)
		prev = cur
	}
}

func TestVaR_Scenario(t *testing.T) {
	rets := []float64{0.1, -0.2, 0.15, -0.05, 0.08}
	assert.InDelta(t, 0.2, VaR(rets, 0.95), eps)
	assert.Equal(t, 0.0, VaR(nil, 0.95))
}

func TestVaR_IndexClamped(t *testing.T) {
	// confidence 0 would index past the end.
	assert.InDelta(t, -0.3, VaR([]float64{0.1, 0.3, -0.1}, 0), eps)
}

func TestCVaR(t *testing.T) {
	rets := []float64{0.1, -0.2, 0.15, -0.05, 0.08}
	assert.InDelta(t, 0.2, CVaR(rets, 0.95), eps)

	rets = make([]float64, 0, 40)
	for i := 0; i < 40; i++ {
		rets = append(rets, float64(i-20)/100)
	}
	// index floor(40×0.05)=2 → sorted[2] = -0.18; tail = {-0.20,-0.19,-0.18}.
	assert.InDelta(t, 0.18, VaR(rets, 0.95), eps)
	assert.InDelta(t, 0.19, CVaR(rets, 0.95), eps)
	assert.Equal(t, 0.0, CVaR(nil, 0.95))
}

func TestATR(t *testing.T) {
	highs := []float64{10, 12, 13, 12}
	lows := []float64{9, 10, 11, 10}
	closes := []float64{9.5, 11, 12.5, 11}
	// TR1 = max(2, 2.5, 0.5)=2.5; TR2 = max(2, 2, 0)=2; TR3 = max(2, 0.5, 2.5)=2.5
	assert.InDelta(t, 7.0/3, ATR(highs, lows, closes, 14), eps)
	assert.InDelta(t, 2.25, ATR(highs, lows, closes, 2), eps)
	assert.Equal(t, 0.0, ATR(nil, nil, nil, 14))
	assert.Equal(t, 0.0, ATR([]float64{1}, []float64{1}, []float64{1}, 14))
}

func TestVolatility(t *testing.T) {
	assert.Equal(t, 0.0, Volatility(nil, 20))
	assert.Equal(t, 0.0, Volatility([]float64{100, 100, 100}, 20))

	prices := []float64{100, 110, 99, 108.9}
	lr := LogReturns(prices)
	want := StdDev(lr) * math.Sqrt(252)
	assert.InDelta(t, want, Volatility(prices, 20), eps)

	// Only the last period returns are used.
	assert.InDelta(t, StdDev(lr[1:])*math.Sqrt(252), Volatility(prices, 2), eps)
}

func TestLogReturns_NonPositivePrice(t *testing.T) {
	lr := LogReturns([]float64{0, 10, 20})
	require.Len(t, lr, 2)
	assert.Equal(t, 0.0, lr[0])
	assert.InDelta(t, math.Log(2), lr[1], eps)
}

func TestDynamicStopLoss(t *testing.T) {
	assert.Equal(t, 0.0, DynamicStopLoss(0, 0.2, 1, 0.05))
	// candidates: 95, 100-100*0.2*2=60, 100-2*2=96 → 96
	assert.InDelta(t, 96.0, DynamicStopLoss(100, 0.2, 2, 0.05), eps)
	// candidates: 90, 98, 80 → 98
	assert.InDelta(t, 98.0, DynamicStopLoss(100, 0.01, 10, 0.1), eps)
}

func TestPositionSize(t *testing.T) {
	assert.Equal(t, int64(250), PositionSize(100000, 0.01, 96, 100))
	assert.Equal(t, int64(0), PositionSize(100000, 0.01, 100, 100))
	assert.Equal(t, int64(0), PositionSize(100000, 0.01, 101, 100))
	assert.Equal(t, int64(0), PositionSize(0, 0.01, 96, 100))
	assert.Equal(t, int64(0), PositionSize(100000, 0, 96, 100))
}

func TestScore_EmptyStock(t *testing.T) {
	m := Score(Series{}, Series{})
	assert.Equal(t, 0.0, m.RiskScore)
	assert.Equal(t, 1.0, m.Components["beta"])
	assert.Equal(t, 0.0, m.Components["volatility"])
}

func TestScore_Bounded(t *testing.T) {
	points := []model.PricePoint{
		{Date: 20240101, Price: 100, High: 101, Low: 99},
		{Date: 20240102, Price: 60, High: 70, Low: 55},
		{Date: 20240103, Price: 90, High: 92, Low: 58},
		{Date: 20240104, Price: 20, High: 91, Low: 19},
		{Date: 20240105, Price: 50, High: 55, Low: 18},
	}
	stock := FromPoints(points)
	market := Series{Returns: []float64{0.01, -0.01, 0.02, -0.02}}

	m := Score(stock, market)
	assert.GreaterOrEqual(t, m.RiskScore, 0.0)
	assert.LessOrEqual(t, m.RiskScore, 100.0)
	assert.GreaterOrEqual(t, m.MaxDrawdown, 0.0)
	assert.LessOrEqual(t, m.MaxDrawdown, 1.0)
	assert.GreaterOrEqual(t, m.VaR95, 0.0)
	assert.GreaterOrEqual(t, m.CVaR95, 0.0)
	assert.Greater(t, m.ATR, 0.0)
	assert.Len(t, m.Components, 5)
}

func TestScore_Composite(t *testing.T) {
	// Flat series: vol 0, beta 1 (no market), drawdown 0, VaR 0, Sharpe 0.
	stock := Series{Prices: []float64{10, 10, 10, 10}}
	m := Score(stock, Series{})
	// 0.2×min(1/2,1) + 0.1×(1−0) = 0.2 → 20
	assert.InDelta(t, 20.0, m.RiskScore, 1e-9)
}

func TestProfileFor(t *testing.T) {
	p, ok := ProfileFor(2)
	require.True(t, ok)
	assert.Equal(t, 0.10, p.RiskTolerance)

	_, ok = ProfileFor(3)
	assert.False(t, ok)
}

func TestProfile_Size(t *testing.T) {
	p, _ := ProfileFor(1)
	// Stop = max(95, 100−100×0.01×2, 100−0.5×2) = 99; risk 200 over a
	// 1.00 gap = 200 shares, capped at 10000×0.2/100 = 20.
	s := p.Size(10000, 100, model.RiskMetrics{Volatility: 0.01, ATR: 0.5})
	assert.InDelta(t, 99.0, s.StopLoss, eps)
	assert.Equal(t, int64(20), s.MaxShares)
	assert.Equal(t, int64(20), s.PositionSize)

	// Tolerance floor wins: risk 20000 over a 5.00 gap = 4000, capped at 2000.
	s = p.Size(1000000, 100, model.RiskMetrics{Volatility: 0.5, ATR: 10})
	assert.InDelta(t, 95.0, s.StopLoss, eps)
	assert.Equal(t, int64(2000), s.MaxShares)
	assert.Equal(t, int64(2000), s.PositionSize)

	assert.Equal(t, int64(0), p.Size(10000, 0, model.RiskMetrics{}).PositionSize)
}
