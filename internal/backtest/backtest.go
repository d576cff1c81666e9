// Package backtest runs buy-and-hold simulations over historical closes.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/risk"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// ErrNoData is returned when the date window holds no prices.
var ErrNoData = errors.New("backtest: no data in range")

const (
	DefaultCapital  = 10000.0
	DefaultStrategy = "Buy and Hold"
	// Lookback is how much history the Runner requests.
	Lookback = 365
)

// Request describes one backtest. Start and End are YYYYMMDD; zero leaves
// that side of the window open.
type Request struct {
	Symbol   string  `json:"symbol"`
	Start    int     `json:"start_date,omitempty"`
	End      int     `json:"end_date,omitempty"`
	Capital  float64 `json:"initial_capital,omitempty"`
	Strategy string  `json:"strategy,omitempty"`
}

// Result reports a buy-and-hold run. MaxDrawdown and Volatility are
// fractions; ProfitLossPct is a percentage.
type Result struct {
	Symbol          string             `json:"symbol"`
	Strategy        string             `json:"strategy"`
	StartDate       int                `json:"start_date"`
	EndDate         int                `json:"end_date"`
	InitialCapital  float64            `json:"initial_capital"`
	BuyPrice        float64            `json:"buy_price"`
	SellPrice       float64            `json:"sell_price"`
	Shares          int64              `json:"shares"`
	FinalValue      float64            `json:"final_value"`
	ProfitLoss      float64            `json:"profit_loss"`
	ProfitLossPct   float64            `json:"profit_loss_pct"`
	MaxDrawdown     float64            `json:"max_drawdown"`
	MaxDrawdownDate int                `json:"max_drawdown_date,omitempty"`
	Volatility      float64            `json:"volatility"`
	DataPoints      int                `json:"data_points"`
	PriceHistory    []model.PricePoint `json:"price_history"`
}

// Run simulates buying floor(capital/firstPrice) shares on the first date
// of the window and valuing them at the last.
func Run(points []model.PricePoint, req Request) (*Result, error) {
	window := timeseries.Window(timeseries.Sorted(points), req.Start, req.End)
	if len(window) == 0 {
		return nil, fmt.Errorf("%s %d-%d: %w", req.Symbol, req.Start, req.End, ErrNoData)
	}
	capital := req.Capital
	if capital <= 0 {
		capital = DefaultCapital
	}
	strategy := req.Strategy
	if strings.TrimSpace(strategy) == "" {
		strategy = DefaultStrategy
	}

	first, last := window[0], window[len(window)-1]
	if first.Price <= 0 {
		return nil, fmt.Errorf("%s: non-positive opening price on %d: %w", req.Symbol, first.Date, ErrNoData)
	}
	shares := int64(math.Floor(capital / first.Price))
	final := float64(shares) * last.Price

	prices := model.Prices(window)
	dd, at := risk.MaxDrawdownAt(prices)

	res := &Result{
		Symbol:         req.Symbol,
		Strategy:       strategy,
		StartDate:      first.Date,
		EndDate:        last.Date,
		InitialCapital: capital,
		BuyPrice:       first.Price,
		SellPrice:      last.Price,
		Shares:         shares,
		FinalValue:     final,
		ProfitLoss:     final - capital,
		ProfitLossPct:  (last.Price - first.Price) / first.Price * 100,
		MaxDrawdown:    dd,
		Volatility:     risk.AnnualizedVolatility(risk.Returns(prices)),
		DataPoints:     len(window),
		PriceHistory:   window,
	}
	if at >= 0 {
		res.MaxDrawdownDate = window[at].Date
	}
	return res, nil
}

// History is the price source of a Runner.
type History interface {
	History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error)
}

// Runner fetches history and runs backtests over it.
type Runner struct {
	history History
}

func NewRunner(h History) *Runner {
	return &Runner{history: h}
}

// Run fetches a year of history for req.Symbol and backtests it.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	sym, err := symbol.Normalize(req.Symbol)
	if err != nil {
		return nil, err
	}
	req.Symbol = sym
	points, err := r.history.History(ctx, sym, Lookback)
	if err != nil {
		return nil, err
	}
	return Run(points, req)
}
