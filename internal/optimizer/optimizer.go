// Package optimizer derives portfolio weights with a closed-form
// mean-variance heuristic, optionally replaced by an AI suggestion.
package optimizer

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/stocksim/portfolio-engine/internal/advisor"
	"github.com/stocksim/portfolio-engine/internal/correlation"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/risk"
)

// ErrInsufficientData is returned for an empty asset list.
var ErrInsufficientData = errors.New("optimizer: at least one asset is required")

// FallbackNotice replaces the rationale when the AI suggestion is unavailable.
const FallbackNotice = "AI analysis unavailable. Using traditional mean-variance optimization as fallback."

// Source labels for a Result.
const (
	SourceTraditional = "traditional"
	SourceFallback    = "traditional_fallback"
)

// Asset is one price history fed to the optimizer.
type Asset struct {
	Symbol string
	Prices []float64
}

// Stats are the per-asset inputs of the heuristic.
type Stats struct {
	Symbol      string    `json:"symbol"`
	Returns     []float64 `json:"-"`
	Risk        float64   `json:"risk"`
	SharpeRatio float64   `json:"sharpe_ratio"`
}

// Describe computes returns, risk and Sharpe ratio per asset.
func Describe(assets []Asset) []Stats {
	out := make([]Stats, len(assets))
	for i, a := range assets {
		rets := risk.Returns(a.Prices)
		out[i] = Stats{
			Symbol:      a.Symbol,
			Returns:     rets,
			Risk:        risk.StdDev(rets),
			SharpeRatio: risk.SharpeRatio(rets, risk.DefaultRiskFree),
		}
	}
	return out
}

func equalWeights(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// Weights applies the heuristic:
//
//	base_i = (risk_i/Σrisk) × (1 + sharpe_i/2)
//	adj_i  = base_i × Π_{j≠i} (1 − |corr(i,j)|)
//	w_i    = adj_i / Σadj
//
// A single asset gets [1]. When Σrisk or Σadj is not a positive finite
// number the result is equal-weight.
func Weights(stats []Stats) ([]float64, error) {
	n := len(stats)
	if n == 0 {
		return nil, ErrInsufficientData
	}
	if n == 1 {
		return []float64{1}, nil
	}

	risks := make([]float64, n)
	for i, s := range stats {
		risks[i] = s.Risk
	}
	totalRisk := floats.Sum(risks)
	if !finite(totalRisk) || totalRisk <= 0 {
		return equalWeights(n), nil
	}

	adjusted := make([]float64, n)
	for i, s := range stats {
		w := (s.Risk / totalRisk) * (1 + s.SharpeRatio/2)
		for j := range stats {
			if j == i {
				continue
			}
			w *= 1 - math.Abs(correlation.Pearson(s.Returns, stats[j].Returns))
		}
		adjusted[i] = w
	}

	total := floats.Sum(adjusted)
	if !finite(total) || total <= 0 {
		return equalWeights(n), nil
	}
	floats.Scale(1/total, adjusted)
	return adjusted, nil
}

// Advisor supplies alternative weights, see advisor.Chain.
type Advisor interface {
	Predict(ctx context.Context, features []advisor.Feature) (*advisor.Prediction, error)
}

// Result is the outcome of Optimize.
type Result struct {
	Symbols            []string  `json:"symbols"`
	Weights            []float64 `json:"weights"`
	TraditionalWeights []float64 `json:"traditional_weights"`
	Analysis           string    `json:"analysis"`
	Source             string    `json:"source"`
	Assets             []Stats   `json:"assets"`
}

// Optimizer combines the heuristic with an optional AI advisor.
type Optimizer struct {
	advisor Advisor
}

// New creates an optimizer. Pass nil to disable AI suggestions.
func New(adv Advisor) *Optimizer {
	return &Optimizer{advisor: adv}
}

// Optimize always computes the traditional weights. If an advisor is
// configured its answer is used instead; on advisor failure the traditional
// weights are returned with FallbackNotice as the rationale.
func (o *Optimizer) Optimize(ctx context.Context, assets []Asset) (*Result, error) {
	stats := Describe(assets)
	traditional, err := Weights(stats)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Symbols:            make([]string, len(assets)),
		Weights:            traditional,
		TraditionalWeights: traditional,
		Source:             SourceTraditional,
		Assets:             stats,
	}
	for i, a := range assets {
		res.Symbols[i] = a.Symbol
	}
	if o.advisor == nil {
		return res, nil
	}

	features := make([]advisor.Feature, len(stats))
	for i, s := range stats {
		features[i] = advisor.Feature{Symbol: s.Symbol, Returns: s.Returns, Risk: s.Risk, SharpeRatio: s.SharpeRatio}
	}

	pred, err := o.advisor.Predict(ctx, features)
	if err != nil {
		slog.Warn("AI weights unavailable, using traditional optimization", "assets", len(assets), "err", err)
		metrics.AIFallbacks.Inc()
		res.Source = SourceFallback
		res.Analysis = FallbackNotice
		return res, nil
	}
	res.Weights = pred.Weights
	res.Analysis = pred.Analysis
	res.Source = "ai:" + pred.Source
	return res, nil
}
