package trade

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stocksim/portfolio-engine/internal/backtest"
	"github.com/stocksim/portfolio-engine/internal/correlation"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/optimizer"
	"github.com/stocksim/portfolio-engine/internal/risk"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// HedgeRequest is the JSON body for POST /analysis/hedge.
type HedgeRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=2,max=25"`
	Days    int      `json:"days" default:"90" validate:"gte=2,lte=1825"`
}

// OptimizeRequest is the JSON body for POST /analysis/optimize.
type OptimizeRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=25"`
	Days    int      `json:"days" default:"365" validate:"gte=2,lte=1825"`
}

// BacktestRequest is the JSON body for POST /analysis/backtest. Dates are
// YYYY-MM-DD or YYYYMMDD; an empty date leaves that side open.
type BacktestRequest struct {
	Symbol         string  `json:"symbol" validate:"required"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	InitialCapital float64 `json:"initial_capital" default:"10000" validate:"gt=0"`
	Strategy       string  `json:"strategy" default:"Buy and Hold"`
}

// RiskReport is the response of GET /analysis/risk/{symbol}.
type RiskReport struct {
	Symbol      string            `json:"symbol"`
	Benchmark   string            `json:"benchmark"`
	PriceSource string            `json:"price_source"`
	DataPoints  int               `json:"data_points"`
	Capital     float64           `json:"capital"`
	Profile     risk.Profile      `json:"profile"`
	Metrics     model.RiskMetrics `json:"risk_metrics"`
	risk.Sizing
}

const defaultRiskDays = 365

// loadSeries fetches history for each symbol and aligns the series on one
// date grid. Symbols whose history cannot be loaded are left out.
func (s *Service) loadSeries(ctx context.Context, symbols []string, days int) ([]string, map[string][]model.PricePoint) {
	series := make(map[string][]model.PricePoint, len(symbols))
	loaded := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		hist, err := s.prices.History(ctx, sym, days)
		if err != nil || len(hist) == 0 {
			slog.Warn("history unavailable, excluding symbol", "symbol", sym, "err", err)
			continue
		}
		series[sym] = hist
		loaded = append(loaded, sym)
	}
	_, aligned := timeseries.Align(series)
	return loaded, aligned
}

// Hedge handles POST /api/v1/analysis/hedge
// Correlates daily returns and suggests hedging and diversifying pairs.
func (s *Service) Hedge(w http.ResponseWriter, r *http.Request) {
	var req HedgeRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}
	symbols, err := symbol.NormalizeAll(req.Symbols)
	if err != nil {
		fail(w, r, err)
		return
	}

	loaded, aligned := s.loadSeries(r.Context(), symbols, req.Days)
	returns := make(map[string][]float64, len(loaded))
	for _, sym := range loaded {
		returns[sym] = risk.Returns(model.Prices(aligned[sym]))
	}

	report, err := correlation.Analyze(loaded, returns)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Optimize handles POST /api/v1/analysis/optimize
// Returns mean-variance weights, replaced by AI weights when an advisor
// answers.
func (s *Service) Optimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}
	symbols, err := symbol.NormalizeAll(req.Symbols)
	if err != nil {
		fail(w, r, err)
		return
	}

	loaded, aligned := s.loadSeries(r.Context(), symbols, req.Days)
	assets := make([]optimizer.Asset, len(loaded))
	for i, sym := range loaded {
		assets[i] = optimizer.Asset{Symbol: sym, Prices: model.Prices(aligned[sym])}
	}

	res, err := s.optimizer.Optimize(r.Context(), assets)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Risk handles GET /api/v1/analysis/risk/{symbol}?period=&capital=&days=
// period is the investment horizon in years (1, 2 or 5).
func (s *Service) Risk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sym, err := symbol.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		fail(w, r, err)
		return
	}

	q := r.URL.Query()
	period, err := intParam(q.Get("period"), 1)
	if err != nil {
		fail(w, r, err)
		return
	}
	profile, ok := risk.ProfileFor(period)
	if !ok {
		fail(w, r, fmt.Errorf("%w: period must be 1, 2 or 5", errBadRequest))
		return
	}
	days, err := intParam(q.Get("days"), defaultRiskDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	capital := s.ledger.InitialBalance().InexactFloat64()
	if raw := q.Get("capital"); raw != "" {
		if capital, err = strconv.ParseFloat(raw, 64); err != nil || capital <= 0 {
			fail(w, r, fmt.Errorf("%w: capital must be a positive number", errBadRequest))
			return
		}
	}

	hist, err := s.prices.History(ctx, sym, days)
	if err != nil {
		fail(w, r, err)
		return
	}
	var market risk.Series
	if bench, err := s.prices.History(ctx, s.benchmark, days); err != nil {
		slog.Warn("benchmark history unavailable, beta defaults to 1", "benchmark", s.benchmark, "err", err)
	} else {
		market = risk.FromPoints(bench)
	}
	metrics := risk.Score(risk.FromPoints(hist), market)

	report := RiskReport{
		Symbol:     sym,
		Benchmark:  s.benchmark,
		DataPoints: len(hist),
		Capital:    capital,
		Profile:    profile,
		Metrics:    metrics,
	}
	price := 0.0
	if quote, err := s.prices.Current(ctx, sym); err == nil {
		price, report.PriceSource = quote.Price, quote.Source
	} else if last, ok := timeseries.Latest(hist); ok {
		slog.Warn("live price unavailable, sizing from last close", "symbol", sym, "err", err)
		price, report.PriceSource = last.Price, "history"
	}
	report.Sizing = profile.Size(capital, price, metrics)
	writeJSON(w, http.StatusOK, report)
}

// Backtest handles POST /api/v1/analysis/backtest
func (s *Service) Backtest(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}
	start, err := optionalDate(req.StartDate)
	if err != nil {
		fail(w, r, err)
		return
	}
	end, err := optionalDate(req.EndDate)
	if err != nil {
		fail(w, r, err)
		return
	}

	res, err := s.backtests.Run(r.Context(), backtest.Request{
		Symbol:   req.Symbol,
		Start:    start,
		End:      end,
		Capital:  req.InitialCapital,
		Strategy: req.Strategy,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func optionalDate(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return timeseries.ParseDate(s)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive integer", errBadRequest, raw)
	}
	return n, nil
}
