package pricing

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

const (
	// DefaultAnchorPrice is used when no live quote is available.
	DefaultAnchorPrice = 100.0
	minSyntheticPoints = 30
	// minTrend floors the downward drift so long lookbacks stay positive.
	minTrend = 0.1
	minTick  = 0.01
)

// Synthetic generates a plausible weekday series around the current price.
// It is the last resort of the history chain and never fails.
type Synthetic struct {
	anchor QuoteProvider

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSynthetic creates a generator anchored on the given quote provider,
// which may be nil. The seed makes output reproducible.
func NewSynthetic(anchor QuoteProvider, seed uint64) *Synthetic {
	return &Synthetic{
		anchor: anchor,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:    time.Now,
	}
}

func (s *Synthetic) Name() string { return "synthetic" }

// History returns max(days, 30) weekday points ending today, oldest first.
func (s *Synthetic) History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error) {
	anchor := DefaultAnchorPrice
	if s.anchor != nil {
		if p, err := s.anchor.Price(ctx, symbol); err == nil && Valid(p) {
			anchor = p
		} else {
			slog.Warn("synthetic history using default anchor", "symbol", symbol, "err", err)
		}
	}
	return s.generate(anchor, days), nil
}

func (s *Synthetic) generate(anchor float64, days int) []model.PricePoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := max(days, minSyntheticPoints)
	horizon := max(days, 60) * 2
	today := s.now().UTC()

	out := make([]model.PricePoint, 0, target)
	for i := 0; len(out) < target && i < horizon; i++ {
		day := today.AddDate(0, 0, -i)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		trend := max(1-float64(i)*0.001, minTrend)
		noise := (s.rng.Float64() - 0.5) * 0.1
		price := anchor * trend * (1 + noise)
		out = append(out, model.PricePoint{
			Date:   timeseries.DateOf(day),
			Price:  max(round2(price), minTick),
			High:   round2(price * 1.02),
			Low:    round2(price * 0.98),
			Open:   round2(price * 0.99),
			Volume: float64(s.rng.IntN(10_000_000) + 1_000_000),
		})
	}
	return timeseries.Sorted(out)
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
