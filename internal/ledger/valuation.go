package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/store"
	"github.com/stocksim/portfolio-engine/internal/symbol"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// RankSize is the length of the winners and losers lists.
const RankSize = 5

var hundred = decimal.NewFromInt(100)

// Holding is the open position in one symbol.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	Invested      decimal.Decimal `json:"invested"`
	Value         decimal.Decimal `json:"value"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitLossPct float64         `json:"profit_loss_pct"`
	FirstPurchase time.Time       `json:"first_purchase"`
	PriceSource   string          `json:"price_source,omitempty"`
	// Degraded is set when no price could be resolved and the average cost
	// stands in for the current price.
	Degraded bool `json:"degraded,omitempty"`
}

// Portfolio is the valued view of one owner's account.
type Portfolio struct {
	OwnerID          string          `json:"user_id"`
	CashBalance      decimal.Decimal `json:"cash_balance"`
	TotalInvested    decimal.Decimal `json:"total_invested"`
	TotalValue       decimal.Decimal `json:"total_value"`
	TotalProfitLoss  decimal.Decimal `json:"total_profit_loss"`
	TotalProfitLossP float64         `json:"total_profit_loss_pct"`
	NetWorth         decimal.Decimal `json:"net_worth"`
	Holdings         []Holding       `json:"holdings"`
	Winners          []Holding       `json:"winners"`
	Losers           []Holding       `json:"losers"`
	Degraded         bool            `json:"degraded"`
}

// position aggregates the open lots of one symbol.
type position struct {
	symbol   string
	quantity int64
	cost     decimal.Decimal
	first    time.Time
}

func (p position) avgCost() decimal.Decimal {
	if p.quantity == 0 {
		return decimal.Zero
	}
	return p.cost.Div(decimal.NewFromInt(p.quantity))
}

// positions groups open lots by symbol, sorted by symbol.
func positions(lots []model.Lot) []position {
	bySym := make(map[string]*position)
	for _, l := range lots {
		if l.Closed || l.Quantity <= 0 {
			continue
		}
		p, ok := bySym[l.Symbol]
		if !ok {
			p = &position{symbol: l.Symbol, cost: decimal.Zero, first: l.OpenedAt}
			bySym[l.Symbol] = p
		}
		p.quantity += l.Quantity
		p.cost = p.cost.Add(l.UnitCost.Mul(decimal.NewFromInt(l.Quantity)))
		if l.OpenedAt.Before(p.first) {
			p.first = l.OpenedAt
		}
	}
	out := make([]position, 0, len(bySym))
	for _, p := range bySym {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].symbol < out[j].symbol })
	return out
}

func pct(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	f, _ := num.Div(den).Mul(hundred).Round(4).Float64()
	return f
}

// Portfolio values every open position at its current price. An owner with
// no account yet is shown with the initial balance and no holdings.
func (e *Engine) Portfolio(ctx context.Context, owner string) (*Portfolio, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	cash := e.initial
	acct, err := e.store.GetAccount(ctx, owner)
	switch {
	case err == nil:
		cash = acct.CashBalance
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	lots, err := e.store.HoldingLots(ctx, owner)
	if err != nil {
		return nil, err
	}

	pf := &Portfolio{
		OwnerID:         owner,
		CashBalance:     cash,
		TotalInvested:   decimal.Zero,
		TotalValue:      decimal.Zero,
		TotalProfitLoss: decimal.Zero,
		Holdings:        []Holding{},
	}
	for _, p := range positions(lots) {
		h := e.value(ctx, p)
		pf.Degraded = pf.Degraded || h.Degraded
		pf.TotalInvested = pf.TotalInvested.Add(h.Invested)
		pf.TotalValue = pf.TotalValue.Add(h.Value)
		pf.Holdings = append(pf.Holdings, h)
	}
	pf.TotalProfitLoss = pf.TotalValue.Sub(pf.TotalInvested)
	pf.TotalProfitLossP = pct(pf.TotalProfitLoss, pf.TotalInvested)
	pf.NetWorth = cash.Add(pf.TotalValue)
	pf.Winners, pf.Losers = rank(pf.Holdings)
	return pf, nil
}

func (e *Engine) value(ctx context.Context, p position) Holding {
	avg := p.avgCost()
	qty := decimal.NewFromInt(p.quantity)
	h := Holding{
		Symbol:        p.symbol,
		Quantity:      p.quantity,
		AvgCost:       avg,
		Invested:      p.cost,
		FirstPurchase: p.first,
	}
	q, err := e.prices.Current(ctx, p.symbol)
	if err == nil && !pricing.Valid(q.Price) {
		err = fmt.Errorf("unusable price %v from %s: %w", q.Price, q.Source, pricing.ErrServiceUnavailable)
	}
	if err != nil {
		slog.Warn("valuing holding at cost", "symbol", p.symbol, "err", err)
		h.CurrentPrice, h.Value, h.ProfitLoss, h.Degraded = avg, p.cost, decimal.Zero, true
		return h
	}
	h.CurrentPrice = decimal.NewFromFloat(q.Price)
	h.PriceSource = q.Source
	h.Value = h.CurrentPrice.Mul(qty)
	h.ProfitLoss = h.Value.Sub(p.cost)
	h.ProfitLossPct = pct(h.ProfitLoss, p.cost)
	return h
}

// rank orders holdings by P/L% descending. Winners are the first RankSize;
// losers are the last RankSize, worst first, never repeating a winner.
func rank(holdings []Holding) (winners, losers []Holding) {
	sorted := append([]Holding(nil), holdings...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProfitLossPct > sorted[j].ProfitLossPct })

	n := min(RankSize, len(sorted))
	winners = sorted[:n]
	from := max(len(sorted)-RankSize, n)
	for i := len(sorted) - 1; i >= from; i-- {
		losers = append(losers, sorted[i])
	}
	if losers == nil {
		losers = []Holding{}
	}
	return winners, losers
}

// TimelinePoint is the portfolio value on one date.
type TimelinePoint struct {
	Date          int     `json:"date"`
	Invested      float64 `json:"invested"`
	Value         float64 `json:"value"`
	ProfitLoss    float64 `json:"profit_loss"`
	ProfitLossPct float64 `json:"profit_loss_pct"`
}

// maxTimelineDays bounds how far back timelines look.
const maxTimelineDays = 365

func (e *Engine) lookback(since time.Time) int {
	days := int(e.now().Sub(since).Hours()/24) + 1
	return max(1, min(days, maxTimelineDays))
}

// sincePurchase keeps the points on or after the purchase date. When none
// remain, the most recent 30 points stand in so a same-day purchase still
// has a curve.
func sincePurchase(points []model.PricePoint, first time.Time) []model.PricePoint {
	kept := timeseries.Since(points, timeseries.DateOf(first))
	if len(kept) == 0 {
		kept = timeseries.Last(points, 30)
	}
	return kept
}

// Timeline values the current holdings on every date since the earliest
// purchase. Series are aligned onto their union date grid; a symbol joins
// the total once its first price is known.
func (e *Engine) Timeline(ctx context.Context, owner string) ([]TimelinePoint, error) {
	lots, err := e.store.HoldingLots(ctx, owner)
	if err != nil {
		return nil, err
	}
	pos := positions(lots)
	if len(pos) == 0 {
		return []TimelinePoint{}, nil
	}

	series := make(map[string][]model.PricePoint, len(pos))
	for _, p := range pos {
		hist, err := e.prices.History(ctx, p.symbol, e.lookback(p.first))
		if err != nil {
			slog.Warn("timeline skipping symbol", "symbol", p.symbol, "err", err)
			continue
		}
		if kept := sincePurchase(hist, p.first); len(kept) > 0 {
			series[p.symbol] = kept
		}
	}
	if len(series) == 0 {
		return []TimelinePoint{}, nil
	}

	dates, aligned := timeseries.Align(series)
	out := make([]TimelinePoint, 0, len(dates))
	for i, d := range dates {
		var invested, value float64
		for _, p := range pos {
			pts, ok := aligned[p.symbol]
			if !ok || pts[i].Price <= 0 {
				continue
			}
			cost, _ := p.cost.Float64()
			invested += cost
			value += pts[i].Price * float64(p.quantity)
		}
		if invested <= 0 {
			continue
		}
		pl := value - invested
		out = append(out, TimelinePoint{
			Date:          d,
			Invested:      invested,
			Value:         value,
			ProfitLoss:    pl,
			ProfitLossPct: pl / invested * 100,
		})
	}
	return out, nil
}

// PricePoint is one date of a single-symbol timeline.
type PricePoint struct {
	Date          int     `json:"date"`
	Price         float64 `json:"price"`
	ProfitLossPct float64 `json:"profit_loss_pct"`
}

// PriceTimeline is a held symbol's price since its first open lot.
type PriceTimeline struct {
	Symbol        string       `json:"symbol"`
	FirstPurchase time.Time    `json:"first_purchase"`
	BasePrice     float64      `json:"base_price"`
	Points        []PricePoint `json:"points"`
}

// PriceTimeline returns the symbol's closes since the owner first bought it,
// with P/L% relative to the first close in range. store.ErrNotFound is
// returned when the owner holds no open lot of the symbol.
func (e *Engine) PriceTimeline(ctx context.Context, owner, sym string) (*PriceTimeline, error) {
	sym, err := symbol.Normalize(sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	lots, err := e.store.HoldingLots(ctx, owner)
	if err != nil {
		return nil, err
	}
	var first time.Time
	for _, l := range lots {
		if l.Symbol == sym && !l.Closed && (first.IsZero() || l.OpenedAt.Before(first)) {
			first = l.OpenedAt
		}
	}
	if first.IsZero() {
		return nil, fmt.Errorf("no open position in %s: %w", sym, store.ErrNotFound)
	}

	hist, err := e.prices.History(ctx, sym, e.lookback(first))
	if err != nil {
		return nil, err
	}
	kept := timeseries.Since(hist, timeseries.DateOf(first))
	pt := &PriceTimeline{Symbol: sym, FirstPurchase: first, Points: make([]PricePoint, 0, len(kept))}
	if len(kept) == 0 {
		return pt, nil
	}
	pt.BasePrice = kept[0].Price
	for _, p := range kept {
		var plp float64
		if pt.BasePrice > 0 {
			plp = (p.Price - pt.BasePrice) / pt.BasePrice * 100
		}
		pt.Points = append(pt.Points, PricePoint{Date: p.Date, Price: p.Price, ProfitLossPct: plp})
	}
	return pt, nil
}
