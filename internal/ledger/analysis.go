package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/optimizer"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// Holdings need this much history to take part in an analysis.
const (
	MinAnalysisHoldings = 2
	MinAnalysisPoints   = 30
	analysisLookback    = 365
)

// Analysis compares the current allocation with optimized weights.
type Analysis struct {
	OwnerID         string                     `json:"user_id"`
	TotalValue      float64                    `json:"total_value"`
	Optimization    *optimizer.Result          `json:"optimization"`
	Recommendations []optimizer.Recommendation `json:"recommendations"`
	// Skipped lists held symbols left out for lack of history.
	Skipped  []string `json:"skipped,omitempty"`
	Degraded bool     `json:"degraded"`
}

// Analyze runs the optimizer over the owner's holdings and suggests
// Buy/Sell/Hold per holding. It fails with optimizer.ErrInsufficientData
// unless at least two holdings have MinAnalysisPoints of history.
func (e *Engine) Analyze(ctx context.Context, owner string, opt *optimizer.Optimizer) (*Analysis, error) {
	pf, err := e.Portfolio(ctx, owner)
	if err != nil {
		return nil, err
	}

	a := &Analysis{OwnerID: owner, Degraded: pf.Degraded}
	series := make(map[string][]model.PricePoint)
	var eligible []Holding
	for _, h := range pf.Holdings {
		hist, err := e.prices.History(ctx, h.Symbol, analysisLookback)
		if err != nil || len(hist) < MinAnalysisPoints {
			slog.Warn("analysis skipping holding", "symbol", h.Symbol, "points", len(hist), "err", err)
			a.Skipped = append(a.Skipped, h.Symbol)
			continue
		}
		series[h.Symbol] = hist
		eligible = append(eligible, h)
	}
	if len(eligible) < MinAnalysisHoldings {
		return nil, fmt.Errorf("%w: %d holdings with %d+ days of history, need %d",
			optimizer.ErrInsufficientData, len(eligible), MinAnalysisPoints, MinAnalysisHoldings)
	}

	_, aligned := timeseries.Align(series)
	assets := make([]optimizer.Asset, len(eligible))
	values := make([]optimizer.Holding, len(eligible))
	for i, h := range eligible {
		assets[i] = optimizer.Asset{Symbol: h.Symbol, Prices: model.Prices(aligned[h.Symbol])}
		v, _ := h.Value.Float64()
		values[i] = optimizer.Holding{Symbol: h.Symbol, Value: v}
		a.TotalValue += v
	}

	res, err := opt.Optimize(ctx, assets)
	if err != nil {
		return nil, err
	}
	a.Optimization = res
	a.Recommendations = optimizer.Rebalance(values, res.Weights)
	return a, nil
}
