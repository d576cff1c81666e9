package basket

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/events"
	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricing"
)

// Prices supplies the execution price.
type Prices interface {
	Current(ctx context.Context, symbol string) (pricing.Quote, error)
}

// Trader applies one participant's order. *ledger.Engine implements it.
type Trader interface {
	Buy(ctx context.Context, owner, symbol string, quantity int64, price decimal.Decimal, at time.Time) (*ledger.Fill, error)
	Sell(ctx context.Context, owner, symbol string, quantity int64, price decimal.Decimal, at time.Time) (*ledger.Fill, error)
}

// Result is one participant's outcome.
type Result struct {
	OwnerID  string       `json:"user_id"`
	Quantity int64        `json:"quantity"`
	Success  bool         `json:"success"`
	Fill     *ledger.Fill `json:"fill,omitempty"`
	Error    string       `json:"error,omitempty"`
	Err      error        `json:"-"`
}

// Execution summarizes an executed basket.
type Execution struct {
	BasketID     uuid.UUID       `json:"basket_id"`
	Symbol       string          `json:"symbol"`
	Action       string          `json:"action"`
	Price        decimal.Decimal `json:"price"`
	PriceSource  string          `json:"price_source"`
	Participants int             `json:"participant_count"`
	Succeeded    int             `json:"success_count"`
	Results      []Result        `json:"results"`
	ExecutedAt   time.Time       `json:"executed_at"`
}

// Executor runs baskets against the ledger.
type Executor struct {
	store  Store
	prices Prices
	trader Trader
	events events.Publisher
	now    func() time.Time
}

// NewExecutor creates an executor. pub may be nil.
func NewExecutor(st Store, prices Prices, trader Trader, pub events.Publisher) *Executor {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Executor{
		store:  st,
		prices: prices,
		trader: trader,
		events: pub,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute takes every order in the basket, fetches one price and applies
// each participant's order independently at that price. A participant that
// fails does not affect the others. If no price can be fetched the orders
// are put back and the error returned.
func (x *Executor) Execute(ctx context.Context, basketID uuid.UUID) (*Execution, error) {
	orders, err := x.store.Take(ctx, basketID)
	if err != nil {
		return nil, err
	}
	sym, action := orders[0].Symbol, orders[0].Action

	q, err := x.prices.Current(ctx, sym)
	if err == nil && !pricing.Valid(q.Price) {
		err = fmt.Errorf("unusable price %v from %s: %w", q.Price, q.Source, pricing.ErrServiceUnavailable)
	}
	if err != nil {
		if rerr := x.store.Restore(ctx, orders); rerr != nil {
			slog.Error("basket restore failed", "basket", basketID, "err", rerr)
		}
		return nil, fmt.Errorf("basket %s: %w", basketID, err)
	}

	price := decimal.NewFromFloat(q.Price)
	at := x.now()
	ex := &Execution{
		BasketID:     basketID,
		Symbol:       sym,
		Action:       action,
		Price:        price,
		PriceSource:  q.Source,
		Participants: len(orders),
		Results:      make([]Result, 0, len(orders)),
		ExecutedAt:   at,
	}
	for _, o := range orders {
		r := Result{OwnerID: o.OwnerID, Quantity: o.Quantity}
		var fill *ledger.Fill
		if action == model.SideBuy {
			fill, err = x.trader.Buy(ctx, o.OwnerID, sym, o.Quantity, price, at)
		} else {
			fill, err = x.trader.Sell(ctx, o.OwnerID, sym, o.Quantity, price, at)
		}
		if err != nil {
			r.Err, r.Error = err, err.Error()
			slog.Warn("basket participant failed", "basket", basketID, "owner", o.OwnerID, "err", err)
		} else {
			r.Success, r.Fill = true, fill
			ex.Succeeded++
		}
		ex.Results = append(ex.Results, r)
	}

	metrics.BasketExecutions.WithLabelValues(action).Inc()
	slog.Info("basket executed",
		"basket", basketID,
		"symbol", sym,
		"action", action,
		"price", price.String(),
		"participants", ex.Participants,
		"succeeded", ex.Succeeded,
	)
	ev := events.Event{
		Type:      events.TypeBasketFilled,
		Symbol:    sym,
		Side:      action,
		Price:     price,
		BasketID:  basketID.String(),
		Timestamp: at,
	}
	for _, r := range ex.Results {
		if r.Success {
			ev.Quantity += r.Quantity
			ev.Amount = ev.Amount.Add(r.Fill.Trade.Amount)
		}
	}
	if err := x.events.Publish(ctx, ev); err != nil {
		slog.Warn("basket event not delivered", "basket", basketID, "err", err)
	}
	return ex, nil
}
