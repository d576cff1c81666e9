// Package ledger executes virtual trades against per-owner cash balances and
// FIFO share lots.
//
// All monetary values use shopspring/decimal. Each buy or sell runs inside a
// single store transaction that locks the owner's account first, so the cash
// and lot invariants hold under concurrent requests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/events"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/store"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

var (
	ErrValidation           = errors.New("ledger: invalid order")
	ErrInsufficientFunds    = errors.New("ledger: insufficient funds")
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")
)

// DefaultInitialBalance is credited to an account the first time it is used.
var DefaultInitialBalance = decimal.NewFromInt(100000)

// Market open, used as the lot time of back-dated trades.
const openHour, openMinute = 9, 30

// Prices resolves the prices trades execute at. *pricing.Resolver
// implements it.
type Prices interface {
	Current(ctx context.Context, symbol string) (pricing.Quote, error)
	PriceOn(ctx context.Context, symbol string, date int) (pricing.Quote, error)
	History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error)
}

// Engine is the virtual trading ledger.
type Engine struct {
	store   store.Store
	prices  Prices
	events  events.Publisher
	initial decimal.Decimal
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithInitialBalance sets the balance of newly created accounts.
func WithInitialBalance(b decimal.Decimal) Option {
	return func(e *Engine) { e.initial = b }
}

// WithPublisher sets the sink for trade events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithClock overrides the clock used for trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates a ledger engine.
func New(st store.Store, prices Prices, opts ...Option) *Engine {
	e := &Engine{
		store:   st,
		prices:  prices,
		events:  events.Nop{},
		initial: DefaultInitialBalance,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InitialBalance is the balance a new account starts with.
func (e *Engine) InitialBalance() decimal.Decimal { return e.initial }

// LotFill records how much of one lot a sell consumed.
type LotFill struct {
	LotID    uuid.UUID       `json:"lot_id"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Closed   bool            `json:"closed"`
}

// Fill is the result of an executed buy or sell.
type Fill struct {
	Trade       model.Trade     `json:"trade"`
	Lot         *model.Lot      `json:"lot,omitempty"`
	Consumed    []LotFill       `json:"consumed,omitempty"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	PriceSource string          `json:"price_source,omitempty"`
}

func validate(owner, sym string, quantity int64, price decimal.Decimal) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrValidation)
	}
	s, err := symbol.Normalize(sym)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, quantity)
	}
	if !price.IsPositive() {
		return "", fmt.Errorf("%w: price must be positive, got %s", ErrValidation, price)
	}
	return s, nil
}

// Buy debits price×quantity from the owner's cash and opens a new lot at
// that unit cost. It fails with ErrInsufficientFunds, leaving the account
// untouched, when the cash balance does not cover the cost.
func (e *Engine) Buy(ctx context.Context, owner, sym string, quantity int64, price decimal.Decimal, at time.Time) (*Fill, error) {
	start := time.Now()
	sym, err := validate(owner, sym, quantity, price)
	if err != nil {
		e.record(model.SideBuy, metrics.OutcomeRejected, start)
		return nil, err
	}
	if at.IsZero() {
		at = e.now()
	}

	cost := price.Mul(decimal.NewFromInt(quantity))
	fill := &Fill{}
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetOrCreateAccount(ctx, owner, e.initial)
		if err != nil {
			return err
		}
		if acct.CashBalance.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), acct.CashBalance.StringFixed(2))
		}
		balance := acct.CashBalance.Sub(cost)
		if err := tx.SetCash(ctx, owner, balance); err != nil {
			return err
		}

		lot := &model.Lot{
			ID:       uuid.New(),
			OwnerID:  owner,
			Symbol:   sym,
			Quantity: quantity,
			UnitCost: price,
			OpenedAt: at.UTC(),
		}
		if err := tx.InsertLot(ctx, lot); err != nil {
			return err
		}

		trade := model.Trade{
			ID:        uuid.New(),
			OwnerID:   owner,
			Symbol:    sym,
			Side:      model.SideBuy,
			Quantity:  quantity,
			Price:     price,
			Amount:    cost,
			CostBasis: cost,
			Timestamp: at.UTC(),
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return err
		}
		fill.Trade, fill.Lot, fill.CashBalance = trade, lot, balance
		return nil
	})
	if err != nil {
		e.record(model.SideBuy, outcomeOf(err), start)
		return nil, err
	}

	e.record(model.SideBuy, metrics.OutcomeOK, start)
	metrics.TradeVolume.WithLabelValues(sym, model.SideBuy).Add(float64(quantity))
	slog.Info("virtual buy",
		"owner", owner,
		"symbol", sym,
		"quantity", quantity,
		"price", price.String(),
		"balance", fill.CashBalance.String(),
	)
	e.publish(ctx, fill.Trade)
	return fill, nil
}

// Sell consumes open lots oldest first and credits price×quantity to the
// owner's cash. Realized cost is the sum of consumed×unitCost over the
// consumed lots. It fails with ErrInsufficientHoldings when the open lots do
// not cover the quantity.
func (e *Engine) Sell(ctx context.Context, owner, sym string, quantity int64, price decimal.Decimal, at time.Time) (*Fill, error) {
	start := time.Now()
	sym, err := validate(owner, sym, quantity, price)
	if err != nil {
		e.record(model.SideSell, metrics.OutcomeRejected, start)
		return nil, err
	}
	if at.IsZero() {
		at = e.now()
	}

	proceeds := price.Mul(decimal.NewFromInt(quantity))
	fill := &Fill{}
	err = e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.GetOrCreateAccount(ctx, owner, e.initial)
		if err != nil {
			return err
		}
		lots, err := tx.OpenLots(ctx, owner, sym)
		if err != nil {
			return err
		}
		var held int64
		for _, l := range lots {
			held += l.Quantity
		}
		if held < quantity {
			return fmt.Errorf("%w: %s holds %d, requested %d", ErrInsufficientHoldings, sym, held, quantity)
		}

		consumed, cost := consumeFIFO(lots, quantity)
		for i := range consumed {
			if err := tx.UpdateLot(ctx, &lots[i]); err != nil {
				return err
			}
		}
		fill.Consumed = consumed

		balance := acct.CashBalance.Add(proceeds)
		if err := tx.SetCash(ctx, owner, balance); err != nil {
			return err
		}

		trade := model.Trade{
			ID:        uuid.New(),
			OwnerID:   owner,
			Symbol:    sym,
			Side:      model.SideSell,
			Quantity:  quantity,
			Price:     price,
			Amount:    proceeds,
			CostBasis: cost,
			Profit:    proceeds.Sub(cost),
			Timestamp: at.UTC(),
		}
		if err := tx.InsertTrade(ctx, &trade); err != nil {
			return err
		}
		fill.Trade, fill.CashBalance = trade, balance
		return nil
	})
	if err != nil {
		e.record(model.SideSell, outcomeOf(err), start)
		return nil, err
	}

	e.record(model.SideSell, metrics.OutcomeOK, start)
	metrics.TradeVolume.WithLabelValues(sym, model.SideSell).Add(float64(quantity))
	slog.Info("virtual sell",
		"owner", owner,
		"symbol", sym,
		"quantity", quantity,
		"price", price.String(),
		"profit", fill.Trade.Profit.String(),
		"balance", fill.CashBalance.String(),
	)
	e.publish(ctx, fill.Trade)
	return fill, nil
}

// consumeFIFO reduces lots in order until quantity is covered. lots must be
// FIFO ordered and hold at least quantity in total. It mutates the consumed
// prefix of lots in place and returns one LotFill per touched lot plus the
// realized cost.
func consumeFIFO(lots []model.Lot, quantity int64) ([]LotFill, decimal.Decimal) {
	remaining := quantity
	cost := decimal.Zero
	var fills []LotFill
	for i := range lots {
		if remaining == 0 {
			break
		}
		lot := &lots[i]
		take := min(remaining, lot.Quantity)
		lot.Quantity -= take
		lot.Closed = lot.Quantity == 0
		remaining -= take
		cost = cost.Add(lot.UnitCost.Mul(decimal.NewFromInt(take)))
		fills = append(fills, LotFill{LotID: lot.ID, Quantity: take, UnitCost: lot.UnitCost, Closed: lot.Closed})
	}
	return fills, cost
}

// Order is a trade request whose price is resolved by the engine.
type Order struct {
	OwnerID  string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
	// Date, when set (YYYY-MM-DD or YYYYMMDD), executes at that day's close
	// or the nearest available one.
	Date string `json:"date,omitempty"`
}

// Execute resolves the price for o and applies it as a buy or sell.
func (e *Engine) Execute(ctx context.Context, side string, o Order) (*Fill, error) {
	if side != model.SideBuy && side != model.SideSell {
		return nil, fmt.Errorf("%w: unknown side %q", ErrValidation, side)
	}
	sym, err := symbol.Normalize(o.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if o.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, o.Quantity)
	}

	var q pricing.Quote
	var at time.Time
	if o.Date != "" {
		date, err := timeseries.ParseDate(o.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if q, err = e.prices.PriceOn(ctx, sym, date); err != nil {
			return nil, err
		}
		at = timeseries.TimeOf(date).Add(openHour*time.Hour + openMinute*time.Minute)
	} else if q, err = e.prices.Current(ctx, sym); err != nil {
		return nil, err
	}

	if !pricing.Valid(q.Price) {
		return nil, fmt.Errorf("%s: unusable price %v from %s: %w", sym, q.Price, q.Source, pricing.ErrServiceUnavailable)
	}
	price := decimal.NewFromFloat(q.Price)
	var fill *Fill
	if side == model.SideBuy {
		fill, err = e.Buy(ctx, o.OwnerID, sym, o.Quantity, price, at)
	} else {
		fill, err = e.Sell(ctx, o.OwnerID, sym, o.Quantity, price, at)
	}
	if err != nil {
		return nil, err
	}
	fill.PriceSource = q.Source
	return fill, nil
}

// Outcome reports one order of a batch.
type Outcome struct {
	Index int    `json:"index"`
	Order Order  `json:"order"`
	Fill  *Fill  `json:"fill,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Batch applies orders sequentially in the given order. A failed order is
// reported and skipped; orders already applied are kept.
func (e *Engine) Batch(ctx context.Context, side string, orders []Order) []Outcome {
	out := make([]Outcome, len(orders))
	for i, o := range orders {
		out[i] = Outcome{Index: i, Order: o}
		fill, err := e.Execute(ctx, side, o)
		if err != nil {
			out[i].Err, out[i].Error = err, err.Error()
			slog.Warn("batch order failed", "side", side, "index", i, "owner", o.OwnerID, "symbol", o.Symbol, "err", err)
			continue
		}
		out[i].Fill = fill
	}
	return out
}

// Trades lists the owner's executed trades, oldest first.
func (e *Engine) Trades(ctx context.Context, owner string) ([]model.Trade, error) {
	return e.store.TradesByOwner(ctx, owner)
}

// Lots lists every lot, open and closed, the owner has held in symbol.
func (e *Engine) Lots(ctx context.Context, owner, sym string) ([]model.Lot, error) {
	s, err := symbol.Normalize(sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return e.store.LotHistory(ctx, owner, s)
}

func (e *Engine) record(side, outcome string, start time.Time) {
	metrics.TradesTotal.WithLabelValues(side, outcome).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())
}

func outcomeOf(err error) string {
	if errors.Is(err, ErrInsufficientFunds) || errors.Is(err, ErrInsufficientHoldings) || errors.Is(err, ErrValidation) {
		return metrics.OutcomeRejected
	}
	return metrics.OutcomeError
}

func (e *Engine) publish(ctx context.Context, t model.Trade) {
	ev := events.Event{
		Type:      events.TypeTrade,
		OwnerID:   t.OwnerID,
		Symbol:    t.Symbol,
		Side:      t.Side,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Amount:    t.Amount,
		Profit:    t.Profit,
		Timestamp: t.Timestamp,
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		slog.Warn("trade event not delivered", "trade", t.ID, "err", err)
	}
}
