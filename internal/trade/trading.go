package trade

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// OrderRequest is the JSON body for POST /trade/buy and /trade/sell.
type OrderRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Symbol   string `json:"symbol" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
	// Date (YYYY-MM-DD or YYYYMMDD) executes at that day's close.
	Date string `json:"date,omitempty"`
}

func (o OrderRequest) order() ledger.Order {
	return ledger.Order{OwnerID: o.UserID, Symbol: o.Symbol, Quantity: o.Quantity, Date: o.Date}
}

// BatchRequest is the JSON body for the batch endpoints. Orders are not
// validated up front; each one fails or succeeds on its own.
type BatchRequest struct {
	Orders []ledger.Order `json:"orders" validate:"required,min=1,max=100"`
}

// BatchResponse reports every order of a batch in request order.
type BatchResponse struct {
	Results   []ledger.Outcome `json:"results"`
	Succeeded int              `json:"success_count"`
	Failed    int              `json:"failure_count"`
}

// GetPrice handles GET /api/v1/prices/{symbol}?date=
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	sym, err := symbol.Normalize(chi.URLParam(r, "symbol"))
	if err != nil {
		fail(w, r, err)
		return
	}

	var q pricing.Quote
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, perr := timeseries.ParseDate(raw)
		if perr != nil {
			fail(w, r, perr)
			return
		}
		q, err = s.prices.PriceOn(r.Context(), sym, date)
	} else {
		q, err = s.prices.Current(r.Context(), sym)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// Buy handles POST /api/v1/trade/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, model.SideBuy)
}

// Sell handles POST /api/v1/trade/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.execute(w, r, model.SideSell)
}

func (s *Service) execute(w http.ResponseWriter, r *http.Request, side string) {
	var req OrderRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}

	fill, err := s.ledger.Execute(r.Context(), side, req.order())
	if err != nil {
		fail(w, r, err)
		return
	}

	slog.Info("trade executed",
		"trade_id", fill.Trade.ID,
		"user", fill.Trade.OwnerID,
		"symbol", fill.Trade.Symbol,
		"side", side,
		"qty", fill.Trade.Quantity,
		"price", fill.Trade.Price.String(),
		"source", fill.PriceSource,
	)
	writeJSON(w, http.StatusOK, fill)
}

// BatchBuy handles POST /api/v1/trade/batch-buy
func (s *Service) BatchBuy(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, model.SideBuy)
}

// BatchSell handles POST /api/v1/trade/batch-sell
func (s *Service) BatchSell(w http.ResponseWriter, r *http.Request) {
	s.batch(w, r, model.SideSell)
}

func (s *Service) batch(w http.ResponseWriter, r *http.Request, side string) {
	var req BatchRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}

	resp := BatchResponse{Results: s.ledger.Batch(r.Context(), side, req.Orders)}
	for _, o := range resp.Results {
		if o.Err != nil {
			resp.Failed++
		} else {
			resp.Succeeded++
		}
	}
	slog.Info("batch executed", "side", side, "orders", len(req.Orders), "ok", resp.Succeeded, "failed", resp.Failed)
	writeJSON(w, http.StatusOK, resp)
}
