// Package events publishes ledger activity to live subscribers and to Kafka.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocksim/portfolio-engine/internal/metrics"
)

// Event types.
const (
	TypeTrade        = "trade"
	TypeBasketJoined = "basket_joined"
	TypeBasketFilled = "basket_executed"
)

// Event is one ledger notification.
type Event struct {
	Type      string          `json:"type"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side,omitempty"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Profit    decimal.Decimal `json:"profit,omitempty"`
	BasketID  string          `json:"basket_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Key is the partitioning key: events of one owner stay ordered.
func (e Event) Key() string {
	if e.OwnerID != "" {
		return e.OwnerID
	}
	return e.Symbol
}

// Publisher delivers events to one sink.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// Multi fans an event out to several sinks. A failing sink is logged and
// counted but does not stop the others.
type Multi []Publisher

func (m Multi) Name() string { return "multi" }

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			metrics.EventsPublished.WithLabelValues(p.Name(), metrics.OutcomeError).Inc()
			slog.Warn("event publish failed", "sink", p.Name(), "type", e.Type, "err", err)
			errs = append(errs, err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(p.Name(), metrics.OutcomeOK).Inc()
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

func (Nop) Name() string                         { return "nop" }
func (Nop) Publish(context.Context, Event) error { return nil }
