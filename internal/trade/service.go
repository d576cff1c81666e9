// Package trade provides the HTTP handlers for virtual trading, portfolio
// queries, basket orders and analytics, plus the WebSocket hub that streams
// executed trades.
//
// Money crosses the wire as shopspring/decimal, never float64.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stocksim/portfolio-engine/internal/advisor"
	"github.com/stocksim/portfolio-engine/internal/backtest"
	"github.com/stocksim/portfolio-engine/internal/basket"
	"github.com/stocksim/portfolio-engine/internal/correlation"
	"github.com/stocksim/portfolio-engine/internal/events"
	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/optimizer"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/store"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// DefaultBenchmark is the market series risk reports are measured against.
const DefaultBenchmark = "SPY"

// Deps are the collaborators of a Service.
type Deps struct {
	Ledger    *ledger.Engine
	Prices    ledger.Prices
	Baskets   basket.Store
	Executor  *basket.Executor
	Optimizer *optimizer.Optimizer
	Backtests *backtest.Runner
	Benchmark string
	// Events receives basket join notifications; trades are published by
	// the ledger itself.
	Events events.Publisher
	// Hub is optional; without it /ws is not routed.
	Hub *WSHub
}

// Service holds the HTTP handlers.
type Service struct {
	ledger    *ledger.Engine
	prices    ledger.Prices
	baskets   basket.Store
	executor  *basket.Executor
	optimizer *optimizer.Optimizer
	backtests *backtest.Runner
	benchmark string
	events    events.Publisher
	hub       *WSHub
}

// NewService creates the handler set.
func NewService(d Deps) *Service {
	s := &Service{
		ledger:    d.Ledger,
		prices:    d.Prices,
		baskets:   d.Baskets,
		executor:  d.Executor,
		optimizer: d.Optimizer,
		backtests: d.Backtests,
		benchmark: d.Benchmark,
		events:    d.Events,
		hub:       d.Hub,
	}
	if s.benchmark == "" {
		s.benchmark = DefaultBenchmark
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.optimizer == nil {
		s.optimizer = optimizer.New(nil)
	}
	if s.backtests == nil {
		s.backtests = backtest.NewRunner(d.Prices)
	}
	return s
}

// Routes registers every API route on r. Mount it under /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Get("/prices/{symbol}", s.GetPrice)

	r.Route("/trade", func(r chi.Router) {
		r.Post("/buy", s.Buy)
		r.Post("/sell", s.Sell)
		r.Post("/batch-buy", s.BatchBuy)
		r.Post("/batch-sell", s.BatchSell)
	})

	r.Route("/portfolio/{userID}", func(r chi.Router) {
		r.Get("/", s.GetPortfolio)
		r.Get("/timeline", s.GetTimeline)
		r.Get("/timeline/{symbol}", s.GetPriceTimeline)
		r.Get("/trades", s.GetTrades)
		r.Get("/lots/{symbol}", s.GetLots)
		r.Get("/analysis", s.GetAnalysis)
	})

	r.Route("/baskets", func(r chi.Router) {
		r.Get("/", s.ListBaskets)
		r.Post("/join", s.JoinBasket)
		r.Post("/{basketID}/execute", s.ExecuteBasket)
	})

	r.Route("/analysis", func(r chi.Router) {
		r.Post("/hedge", s.Hedge)
		r.Post("/optimize", s.Optimize)
		r.Get("/risk/{symbol}", s.Risk)
		r.Post("/backtest", s.Backtest)
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, symbol.ErrInvalidSymbol),
		errors.Is(err, symbol.ErrEmptySymbol),
		errors.Is(err, timeseries.ErrInvalidDate),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings):
		return http.StatusConflict
	case errors.Is(err, correlation.ErrInsufficientData),
		errors.Is(err, optimizer.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, basket.ErrNotFound),
		errors.Is(err, backtest.ErrNoData),
		errors.Is(err, pricing.ErrNoHistory):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrServiceUnavailable),
		errors.Is(err, advisor.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// not echoed.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
