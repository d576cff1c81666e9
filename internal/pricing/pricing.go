// Package pricing resolves live quotes and daily history for symbols by
// trying an ordered list of providers until one answers.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

var (
	// ErrServiceUnavailable means every quote provider failed.
	ErrServiceUnavailable = errors.New("pricing: service unavailable")
	// ErrNoHistory means no history provider returned data.
	ErrNoHistory = errors.New("pricing: no historical data")
)

// Valid reports whether p can be used as a price: positive and finite.
func Valid(p float64) bool {
	return p > 0 && !math.IsInf(p, 0)
}

// validPoints drops points whose close is not a usable price.
func validPoints(points []model.PricePoint) []model.PricePoint {
	out := points[:0:0]
	for _, p := range points {
		if Valid(p.Price) {
			out = append(out, p)
		}
	}
	return out
}

// QuoteProvider returns the current price of a symbol.
type QuoteProvider interface {
	Name() string
	Price(ctx context.Context, symbol string) (float64, error)
}

// HistoryProvider returns daily points for a symbol. An empty result is a
// "no data" signal, not an error.
type HistoryProvider interface {
	Name() string
	History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error)
}

// Quote is a resolved price and the provider that supplied it.
type Quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Date   int     `json:"date,omitempty"`
	Source string  `json:"source"`
}

// DefaultLookback is the number of calendar days of history requested when
// a caller does not specify one.
const DefaultLookback = 365

// Resolver is the single entry point the ledger and analysis handlers use
// for prices.
type Resolver struct {
	quotes  *QuoteChain
	history *HistoryChain
	now     func() time.Time
}

// NewResolver creates a resolver over the given chains.
func NewResolver(quotes *QuoteChain, history *HistoryChain) *Resolver {
	return &Resolver{
		quotes:  quotes,
		history: history,
		now:     time.Now,
	}
}

// Current returns the live price, falling back through the quote chain.
func (r *Resolver) Current(ctx context.Context, symbol string) (Quote, error) {
	return r.quotes.Resolve(ctx, symbol)
}

// History returns the last `days` of daily points, ascending.
func (r *Resolver) History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error) {
	if days <= 0 {
		days = DefaultLookback
	}
	return r.history.History(ctx, symbol, days)
}

// PriceOn returns the close on date, or on the chronologically nearest date
// available when there was no trading that day.
func (r *Resolver) PriceOn(ctx context.Context, symbol string, date int) (Quote, error) {
	days := int(r.now().Sub(timeseries.TimeOf(date)).Hours()/24) + 30
	if days < DefaultLookback {
		days = DefaultLookback
	}
	points, err := r.history.History(ctx, symbol, days)
	if err != nil {
		return Quote{}, err
	}
	p, ok := timeseries.Nearest(validPoints(points), date)
	if !ok {
		return Quote{}, fmt.Errorf("%s on %d: %w", symbol, date, ErrNoHistory)
	}
	return Quote{Symbol: symbol, Price: p.Price, Date: p.Date, Source: "history"}, nil
}
