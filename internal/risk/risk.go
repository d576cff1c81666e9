// Package risk derives return, risk and performance metrics from daily
// price and return series.
//
// Degenerate inputs never raise: every function returns a defined sentinel
// (0, NaN, or a neutral constant such as beta=1) so that composite scores
// stay computable.
package risk

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/stocksim/portfolio-engine/internal/model"
)

const (
	TradingDays       = 252
	DefaultRiskFree   = 0.02
	DefaultConfidence = 0.95
	DefaultATRPeriod  = 14
	DefaultVolPeriod  = 20
)

var annualize = math.Sqrt(TradingDays)

// Returns computes simple returns. A step from a zero price yields 0.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	out := make([]float64, len(prices)-1)
	for i := 0; i < len(prices)-1; i++ {
		if prices[i] == 0 {
			continue
		}
		out[i] = (prices[i+1] - prices[i]) / prices[i]
	}
	return out
}

// LogReturns computes ln(p[i]/p[i-1]); a step involving a non-positive
// price yields 0.
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i] <= 0 || prices[i-1] <= 0 {
			continue
		}
		out[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return out
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// StdDev is the population standard deviation. NaN if any element is
// non-finite, 0 for empty input.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	if !allFinite(xs) {
		return math.NaN()
	}
	return stat.PopStdDev(xs, nil)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// SharpeRatio is (mean − riskFree) / stdDev; 0 when stdDev is 0 or
// undefined, or input is empty.
func SharpeRatio(returns []float64, riskFree float64) float64 {
	sd := StdDev(returns)
	if len(returns) == 0 || sd == 0 || math.IsNaN(sd) {
		return 0
	}
	return (mean(returns) - riskFree) / sd
}

// Beta is cov(stock, market)/var(market) over the common prefix of both
// series. Returns 1 when either series is too short or market variance is 0.
func Beta(stock, market []float64) float64 {
	n := min(len(stock), len(market))
	// One return has no sample variance, so it is neutral like empty input.
	if n < 2 {
		return 1
	}
	s, m := stock[:n], market[:n]
	variance := stat.Variance(m, nil)
	if variance == 0 || math.IsNaN(variance) {
		return 1
	}
	return stat.Covariance(s, m, nil) / variance
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the
// running peak, clamped to [0,1]. Non-positive peaks are skipped.
func MaxDrawdown(prices []float64) float64 {
	dd, _ := MaxDrawdownAt(prices)
	return dd
}

// MaxDrawdownAt also returns the index of the trough, or -1 when there is
// no drawdown.
func MaxDrawdownAt(prices []float64) (float64, int) {
	if len(prices) == 0 {
		return 0, -1
	}
	worst, at := 0.0, -1
	peak := prices[0]
	for i, p := range prices {
		if p > peak {
			peak = p
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p) / peak; dd > worst {
			worst, at = dd, i
		}
	}
	return math.Min(worst, 1), at
}

// VaR is the negated (1−confidence) empirical quantile of returns.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := slices.Clone(returns)
	slices.Sort(sorted)
	idx := int(math.Floor(float64(len(sorted)) * (1 - confidence)))
	idx = max(0, min(idx, len(sorted)-1))
	return -sorted[idx]
}

// CVaR is the negated mean of the returns at or below −VaR; 0 when the
// tail is empty.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := -VaR(returns, confidence)
	var tail []float64
	for _, r := range returns {
		if r <= threshold {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return 0
	}
	return -mean(tail)
}

// ATR averages the last period true ranges. Series are truncated to the
// shortest of the three.
func ATR(highs, lows, closes []float64, period int) float64 {
	n := min(len(highs), len(lows), len(closes))
	if n < 2 {
		return 0
	}
	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		prev := closes[i-1]
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prev), math.Abs(lows[i]-prev)))
		trs = append(trs, tr)
	}
	if period > 0 && len(trs) > period {
		trs = trs[len(trs)-period:]
	}
	return mean(trs)
}

// Volatility is the annualized population std dev of the last period log
// returns.
func Volatility(prices []float64, period int) float64 {
	lr := LogReturns(prices)
	if len(lr) == 0 {
		return 0
	}
	if period > 0 && len(lr) > period {
		lr = lr[len(lr)-period:]
	}
	return StdDev(lr) * annualize
}

// AnnualizedVolatility annualizes the std dev of a daily return series.
func AnnualizedVolatility(returns []float64) float64 {
	return StdDev(returns) * annualize
}

// DynamicStopLoss picks the highest of three candidate floors; 0 if price
// is not positive.
func DynamicStopLoss(price, volatility, atr, riskTolerance float64) float64 {
	if price <= 0 {
		return 0
	}
	return floats.Max([]float64{
		price * (1 - riskTolerance),
		price - price*volatility*2,
		price - atr*2,
	})
}

// PositionSize is the whole number of shares risking balance×riskPerTrade
// between price and stopLoss.
func PositionSize(balance, riskPerTrade, stopLoss, price float64) int64 {
	if balance <= 0 || riskPerTrade <= 0 || stopLoss <= 0 || price <= 0 {
		return 0
	}
	gap := price - stopLoss
	if gap <= 0 {
		return 0
	}
	return int64(math.Floor(balance * riskPerTrade / gap))
}

// Series is the input to Score: closing prices with optional highs/lows.
// Returns default to the simple returns of Prices when nil.
type Series struct {
	Prices  []float64
	Highs   []float64
	Lows    []float64
	Returns []float64
}

// FromPoints builds a Series from a price history.
func FromPoints(points []model.PricePoint) Series {
	s := Series{
		Prices: make([]float64, len(points)),
		Highs:  make([]float64, len(points)),
		Lows:   make([]float64, len(points)),
	}
	for i, p := range points {
		s.Prices[i] = p.Price
		s.Highs[i], s.Lows[i] = p.High, p.Low
		if p.High == 0 && p.Low == 0 {
			s.Highs[i], s.Lows[i] = p.Price, p.Price
		}
	}
	s.Returns = Returns(s.Prices)
	return s
}

func (s Series) returns() []float64 {
	if s.Returns != nil {
		return s.Returns
	}
	return Returns(s.Prices)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(x, 1))
}

// Score computes all metrics for stock against market and the weighted
// composite risk score in [0,100]. An empty stock series yields zeroed
// components with beta 1.
func Score(stock, market Series) model.RiskMetrics {
	if len(stock.Prices) == 0 {
		return model.RiskMetrics{
			Beta: 1,
			Components: map[string]float64{
				"volatility":  0,
				"beta":        1,
				"maxDrawdown": 0,
				"var95":       0,
				"sharpeRatio": 0,
			},
		}
	}

	rets := stock.returns()
	vol := Volatility(stock.Prices, DefaultVolPeriod)
	beta := Beta(rets, market.returns())
	mdd := MaxDrawdown(stock.Prices)
	var95 := VaR(rets, DefaultConfidence)
	sharpe := SharpeRatio(rets, DefaultRiskFree)

	score := (0.3*clamp01(vol/0.5) +
		0.2*clamp01(beta/2) +
		0.2*clamp01(mdd) +
		0.2*clamp01(var95/0.1) +
		0.1*(1-clamp01(math.Max(sharpe, 0)/2))) * 100

	return model.RiskMetrics{
		Volatility:  vol,
		Beta:        beta,
		SharpeRatio: sharpe,
		MaxDrawdown: mdd,
		VaR95:       math.Max(var95, 0),
		CVaR95:      math.Max(CVaR(rets, DefaultConfidence), 0),
		ATR:         ATR(stock.Highs, stock.Lows, stock.Prices, DefaultATRPeriod),
		RiskScore:   math.Max(0, math.Min(score, 100)),
		Components: map[string]float64{
			"volatility":  vol,
			"beta":        beta,
			"maxDrawdown": mdd,
			"var95":       var95,
			"sharpeRatio": sharpe,
		},
	}
}

// Profile holds the sizing parameters for an investment horizon.
type Profile struct {
	Years           int     `json:"years"`
	RiskTolerance   float64 `json:"risk_tolerance"`
	RiskPerTrade    float64 `json:"risk_per_trade"`
	MaxPositionSize float64 `json:"max_position_size"`
}

var profiles = map[int]Profile{
	1: {Years: 1, RiskTolerance: 0.05, RiskPerTrade: 0.02, MaxPositionSize: 0.2},
	2: {Years: 2, RiskTolerance: 0.10, RiskPerTrade: 0.03, MaxPositionSize: 0.3},
	5: {Years: 5, RiskTolerance: 0.15, RiskPerTrade: 0.04, MaxPositionSize: 0.4},
}

// ProfileFor returns the profile for a 1, 2 or 5 year horizon.
func ProfileFor(years int) (Profile, bool) {
	p, ok := profiles[years]
	return p, ok
}

// Sizing is a stop loss and share count for one entry.
type Sizing struct {
	Price        float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
	PositionSize int64   `json:"position_size"`
	MaxShares    int64   `json:"max_position_size"`
}

// Size derives the stop loss from m and caps the risk-based position at
// the profile's share of capital.
func (p Profile) Size(capital, price float64, m model.RiskMetrics) Sizing {
	stop := DynamicStopLoss(price, m.Volatility, m.ATR, p.RiskTolerance)
	s := Sizing{Price: price, StopLoss: stop}
	if price <= 0 {
		return s
	}
	s.MaxShares = int64(math.Floor(capital * p.MaxPositionSize / price))
	s.PositionSize = min(PositionSize(capital, p.RiskPerTrade, stop, price), s.MaxShares)
	return s
}
