package trade

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/model"
)

// GetPortfolio handles GET /api/v1/portfolio/{userID}
// Returns cash, holdings valued at current prices, totals and the top
// winners and losers.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	pf, err := s.ledger.Portfolio(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pf)
}

// GetTimeline handles GET /api/v1/portfolio/{userID}/timeline
func (s *Service) GetTimeline(w http.ResponseWriter, r *http.Request) {
	points, err := s.ledger.Timeline(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if points == nil {
		points = []ledger.TimelinePoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetPriceTimeline handles GET /api/v1/portfolio/{userID}/timeline/{symbol}
func (s *Service) GetPriceTimeline(w http.ResponseWriter, r *http.Request) {
	tl, err := s.ledger.PriceTimeline(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "symbol"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// GetTrades handles GET /api/v1/portfolio/{userID}/trades
func (s *Service) GetTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.ledger.Trades(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetLots handles GET /api/v1/portfolio/{userID}/lots/{symbol}
// Lists open and closed lots in FIFO order.
func (s *Service) GetLots(w http.ResponseWriter, r *http.Request) {
	lots, err := s.ledger.Lots(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "symbol"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

// GetAnalysis handles GET /api/v1/portfolio/{userID}/analysis
func (s *Service) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.Analyze(r.Context(), chi.URLParam(r, "userID"), s.optimizer)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
