package trade

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stocksim/portfolio-engine/internal/basket"
	"github.com/stocksim/portfolio-engine/internal/events"
)

// JoinBasketRequest is the JSON body for POST /baskets/join.
type JoinBasketRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Symbol   string `json:"symbol" validate:"required"`
	Action   string `json:"action" validate:"required,oneof=buy sell"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// ListBaskets handles GET /api/v1/baskets
func (s *Service) ListBaskets(w http.ResponseWriter, r *http.Request) {
	baskets, err := s.baskets.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	if baskets == nil {
		baskets = []basket.Basket{}
	}
	writeJSON(w, http.StatusOK, baskets)
}

// JoinBasket handles POST /api/v1/baskets/join
// Adds to the caller's pending order for (symbol, action).
func (s *Service) JoinBasket(w http.ResponseWriter, r *http.Request) {
	var req JoinBasketRequest
	if err := readRequest(r, &req); err != nil {
		rejectRequest(w, err)
		return
	}

	order, err := s.baskets.Join(r.Context(), req.UserID, req.Symbol, req.Action, req.Quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("basket joined", "order", order.ID, "user", order.OwnerID, "symbol", order.Symbol, "action", order.Action, "qty", order.Quantity)
	ev := events.Event{
		Type:      events.TypeBasketJoined,
		OwnerID:   order.OwnerID,
		Symbol:    order.Symbol,
		Side:      order.Action,
		Quantity:  order.Quantity,
		Timestamp: order.CreatedAt,
	}
	if err := s.events.Publish(r.Context(), ev); err != nil {
		slog.Warn("basket join event not delivered", "order", order.ID, "err", err)
	}
	writeJSON(w, http.StatusCreated, order)
}

// ExecuteBasket handles POST /api/v1/baskets/{basketID}/execute
// Per-participant failures are reported in the body, not as an error status.
func (s *Service) ExecuteBasket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "basketID"))
	if err != nil {
		fail(w, r, fmt.Errorf("%w: invalid basket id", errBadRequest))
		return
	}

	ex, err := s.executor.Execute(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}
