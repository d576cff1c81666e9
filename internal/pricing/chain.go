package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// QuoteChain tries quote providers in order and stops at the first success.
// An optional cache is consulted before the providers and refreshed after a
// provider answers.
type QuoteChain struct {
	providers []QuoteProvider
	cache     QuoteCache
	timeout   time.Duration
}

// QuoteCache stores recently resolved prices.
type QuoteCache interface {
	Get(ctx context.Context, symbol string) (float64, bool)
	Put(ctx context.Context, symbol string, price float64)
}

// NewQuoteChain creates a chain with a per-provider timeout.
func NewQuoteChain(timeout time.Duration, providers ...QuoteProvider) *QuoteChain {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QuoteChain{providers: providers, timeout: timeout}
}

// WithCache sets the cache consulted before the providers.
func (c *QuoteChain) WithCache(cache QuoteCache) *QuoteChain {
	c.cache = cache
	return c
}

// Name lets a chain be nested inside another chain.
func (c *QuoteChain) Name() string { return "chain" }

// Price implements QuoteProvider.
func (c *QuoteChain) Price(ctx context.Context, symbol string) (float64, error) {
	q, err := c.Resolve(ctx, symbol)
	return q.Price, err
}

// Resolve returns the first valid price and the source that produced it.
func (c *QuoteChain) Resolve(ctx context.Context, symbol string) (Quote, error) {
	if c.cache != nil {
		if p, ok := c.cache.Get(ctx, symbol); ok {
			metrics.PriceLookups.WithLabelValues("quote", "cache").Inc()
			return Quote{Symbol: symbol, Price: p, Source: "cache"}, nil
		}
	}

	var errs []error
	for _, p := range c.providers {
		price, err := c.try(ctx, p, symbol)
		if err != nil {
			metrics.PriceFailures.WithLabelValues("quote", p.Name()).Inc()
			slog.Warn("quote provider failed", "provider", p.Name(), "symbol", symbol, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		metrics.PriceLookups.WithLabelValues("quote", p.Name()).Inc()
		if c.cache != nil {
			c.cache.Put(ctx, symbol, price)
		}
		return Quote{Symbol: symbol, Price: price, Source: p.Name()}, nil
	}
	if len(errs) == 0 {
		return Quote{}, fmt.Errorf("%s: no quote providers: %w", symbol, ErrServiceUnavailable)
	}
	return Quote{}, fmt.Errorf("%s: %w: %w", symbol, ErrServiceUnavailable, errors.Join(errs...))
}

func (c *QuoteChain) try(ctx context.Context, p QuoteProvider, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	price, err := p.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !Valid(price) {
		return 0, fmt.Errorf("invalid price %v", price)
	}
	return price, nil
}

// HistoryChain tries history providers in order and returns the first
// non-empty series, sorted ascending and trimmed to `days` points.
type HistoryChain struct {
	providers []HistoryProvider
	timeout   time.Duration
}

// NewHistoryChain creates a chain with a per-provider timeout.
func NewHistoryChain(timeout time.Duration, providers ...HistoryProvider) *HistoryChain {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HistoryChain{providers: providers, timeout: timeout}
}

// Name implements HistoryProvider.
func (c *HistoryChain) Name() string { return "chain" }

// History implements HistoryProvider. It fails with ErrNoHistory when no
// provider produced a point.
func (c *HistoryChain) History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error) {
	for _, p := range c.providers {
		points, err := c.try(ctx, p, symbol, days)
		if err == nil {
			points = validPoints(points)
		}
		if err != nil {
			metrics.PriceFailures.WithLabelValues("history", p.Name()).Inc()
			slog.Warn("history provider failed", "provider", p.Name(), "symbol", symbol, "err", err)
			continue
		}
		if len(points) == 0 {
			slog.Debug("history provider returned no data", "provider", p.Name(), "symbol", symbol)
			continue
		}
		metrics.PriceLookups.WithLabelValues("history", p.Name()).Inc()
		return timeseries.Last(timeseries.Sorted(points), days), nil
	}
	return nil, fmt.Errorf("%s: %w", symbol, ErrNoHistory)
}

func (c *HistoryChain) try(ctx context.Context, p HistoryProvider, symbol string, days int) ([]model.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return p.History(ctx, symbol, days)
}

// LatestClose adapts a history provider into a quote provider that answers
// with the most recent close.
type LatestClose struct {
	History HistoryProvider
	Days    int
}

func (l LatestClose) Name() string { return l.History.Name() + "_latest" }

func (l LatestClose) Price(ctx context.Context, symbol string) (float64, error) {
	days := l.Days
	if days <= 0 {
		days = 30
	}
	points, err := l.History.History(ctx, symbol, days)
	if err != nil {
		return 0, err
	}
	p, ok := timeseries.Latest(validPoints(points))
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoHistory)
	}
	return p.Price, nil
}
