package pricing

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/model"
)

type fakeQuotes struct {
	name  string
	price float64
	err   error
	delay time.Duration
	calls int
}

func (f *fakeQuotes) Name() string { return f.name }

func (f *fakeQuotes) Price(ctx context.Context, _ string) (float64, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.price, f.err
}

type fakeHistory struct {
	name   string
	points []model.PricePoint
	err    error
}

func (f *fakeHistory) Name() string { return f.name }

func (f *fakeHistory) History(context.Context, string, int) ([]model.PricePoint, error) {
	return f.points, f.err
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]float64
}

func (c *mapCache) Get(_ context.Context, s string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.m[s]
	return p, ok
}

func (c *mapCache) Put(_ context.Context, s string, p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[s] = p
}

func TestQuoteChain_FirstSuccessWins(t *testing.T) {
	live := &fakeQuotes{name: "live", err: errors.New("network")}
	hist := &fakeQuotes{name: "history", price: 42}
	never := &fakeQuotes{name: "never", price: 1}

	q, err := NewQuoteChain(time.Second, live, hist, never).Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 42.0, q.Price)
	assert.Equal(t, "history", q.Source)
	assert.Equal(t, 0, never.calls)
}

func TestQuoteChain_InvalidPriceIsFailure(t *testing.T) {
	zero := &fakeQuotes{name: "zero", price: 0}
	ok := &fakeQuotes{name: "ok", price: 10}

	q, err := NewQuoteChain(time.Second, zero, ok).Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "ok", q.Source)
}

func TestQuoteChain_TimeoutFallsThrough(t *testing.T) {
	slow := &fakeQuotes{name: "slow", price: 1, delay: time.Second}
	fast := &fakeQuotes{name: "fast", price: 2}

	q, err := NewQuoteChain(20*time.Millisecond, slow, fast).Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2.0, q.Price)
}

func TestQuoteChain_AllFail(t *testing.T) {
	a := &fakeQuotes{name: "a", err: errors.New("down")}
	_, err := NewQuoteChain(time.Second, a).Resolve(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	_, err = NewQuoteChain(time.Second).Resolve(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestQuoteChain_Cache(t *testing.T) {
	live := &fakeQuotes{name: "live", price: 50}
	cache := &mapCache{m: map[string]float64{}}
	chain := NewQuoteChain(time.Second, live).WithCache(cache)

	q, err := chain.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "live", q.Source)

	q, err = chain.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "cache", q.Source)
	assert.Equal(t, 50.0, q.Price)
	assert.Equal(t, 1, live.calls)
}

func TestHistoryChain_SkipsEmptyAndErrors(t *testing.T) {
	broken := &fakeHistory{name: "broken", err: errors.New("429")}
	empty := &fakeHistory{name: "empty"}
	good := &fakeHistory{name: "good", points: []model.PricePoint{
		{Date: 20240103, Price: 3}, {Date: 20240101, Price: 1}, {Date: 20240102, Price: 2},
	}}

	pts, err := NewHistoryChain(time.Second, broken, empty, good).History(context.Background(), "AAPL", 2)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 20240102, pts[0].Date)
	assert.Equal(t, 20240103, pts[1].Date)
}

func TestHistoryChain_NoData(t *testing.T) {
	_, err := NewHistoryChain(time.Second, &fakeHistory{name: "empty"}).History(context.Background(), "AAPL", 30)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestLatestClose(t *testing.T) {
	h := &fakeHistory{name: "csv", points: []model.PricePoint{{Date: 20240101, Price: 1}, {Date: 20240105, Price: 5}}}
	p, err := LatestClose{History: h}.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p)

	_, err = LatestClose{History: &fakeHistory{name: "none"}}.Price(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestResolver_PriceOnExactAndNearest(t *testing.T) {
	h := &fakeHistory{name: "csv", points: []model.PricePoint{
		{Date: 20240102, Price: 10}, {Date: 20240105, Price: 13}, {Date: 20240108, Price: 16},
	}}
	r := NewResolver(NewQuoteChain(time.Second), NewHistoryChain(time.Second, h))

	q, err := r.PriceOn(context.Background(), "AAPL", 20240105)
	require.NoError(t, err)
	assert.Equal(t, 13.0, q.Price)

	// 2024-01-04 is one day from the 5th and two from the 2nd.
	q, err = r.PriceOn(context.Background(), "AAPL", 20240104)
	require.NoError(t, err)
	assert.Equal(t, 20240105, q.Date)

	// Past the end of the series: the last point.
	q, err = r.PriceOn(context.Background(), "AAPL", 20240110)
	require.NoError(t, err)
	assert.Equal(t, 20240108, q.Date)
}

func TestParseCSV(t *testing.T) {
	data := "DATE/TICKER,AAPL,MSFT\n20240103,187.5,\n20240102,185.0,370.1\nbad,1,2\n"
	h, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)

	aapl := h.Series("AAPL")
	require.Len(t, aapl, 2)
	assert.Equal(t, 20240102, aapl[0].Date)
	assert.Equal(t, 187.5, aapl[1].Price)

	msft, _ := h.History(context.Background(), "MSFT", 30)
	assert.Len(t, msft, 1)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, h.Symbols())
}

func TestParseCSV_MissingDateColumn(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("DATE,AAPL\n20240102,1\n"))
	assert.Error(t, err)
}

func TestSynthetic_ShapeAndDeterminism(t *testing.T) {
	fixed := func() time.Time { return time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC) }
	a := NewSynthetic(&fakeQuotes{name: "live", price: 200}, 7)
	a.now = fixed
	b := NewSynthetic(&fakeQuotes{name: "live", price: 200}, 7)
	b.now = fixed

	pa, err := a.History(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	pb, _ := b.History(context.Background(), "AAPL", 5)
	assert.Equal(t, pa, pb)
	require.Len(t, pa, 30)

	for i, p := range pa {
		wd := time.Date(p.Date/10000, time.Month(p.Date/100%100), p.Date%100, 0, 0, 0, 0, time.UTC).Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
		if i > 0 {
			assert.Greater(t, p.Date, pa[i-1].Date)
		}
		assert.InDelta(t, 200, p.Price, 200*0.1)
		assert.InDelta(t, p.Price*1.02, p.High, 0.01)
		assert.InDelta(t, p.Price*0.98, p.Low, 0.01)
	}
	assert.Equal(t, 20240614, pa[len(pa)-1].Date)
}

func TestSynthetic_DefaultAnchor(t *testing.T) {
	s := NewSynthetic(&fakeQuotes{name: "live", err: errors.New("down")}, 1)
	pts, err := s.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	for _, p := range pts {
		assert.InDelta(t, DefaultAnchorPrice, p.Price, DefaultAnchorPrice*0.15)
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(0.01))
	for _, p := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.False(t, Valid(p), "%v", p)
	}
}

func TestQuoteChain_NonFinitePriceIsFailure(t *testing.T) {
	nan := &fakeQuotes{name: "nan", price: math.NaN()}
	inf := &fakeQuotes{name: "inf", price: math.Inf(1)}
	neg := &fakeQuotes{name: "neg", price: -5}
	ok := &fakeQuotes{name: "ok", price: 10}
	cache := &mapCache{m: map[string]float64{}}

	q, err := NewQuoteChain(time.Second, nan, inf, neg, ok).WithCache(cache).Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "ok", q.Source)
	assert.Equal(t, 10.0, cache.m["AAPL"])

	_, err = NewQuoteChain(time.Second, inf).Resolve(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestParseCSV_SkipsNonFiniteCells(t *testing.T) {
	data := "DATE/TICKER,AAPL,MSFT\n20240102,NaN,370\n20240103,Inf,+Inf\n20240104,-Inf,0\n20240105,188,-3\n"
	h, err := ParseCSV(strings.NewReader(data))
	require.NoError(t, err)

	aapl := h.Series("AAPL")
	require.Len(t, aapl, 1)
	assert.Equal(t, 20240105, aapl[0].Date)

	msft := h.Series("MSFT")
	require.Len(t, msft, 1)
	assert.Equal(t, 370.0, msft[0].Price)
}

func TestHistoryChain_DropsUnusablePoints(t *testing.T) {
	junk := &fakeHistory{name: "junk", points: []model.PricePoint{
		{Date: 20240102, Price: math.Inf(1)}, {Date: 20240103, Price: math.NaN()},
	}}
	mixed := &fakeHistory{name: "mixed", points: []model.PricePoint{
		{Date: 20240102, Price: 10}, {Date: 20240103, Price: math.Inf(1)}, {Date: 20240104, Price: 12},
	}}

	pts, err := NewHistoryChain(time.Second, junk, mixed).History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 20240102, pts[0].Date)
	assert.Equal(t, 20240104, pts[1].Date)

	_, err = NewHistoryChain(time.Second, junk).History(context.Background(), "AAPL", 30)
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestResolver_PriceOnSkipsUnusableClose(t *testing.T) {
	h := &fakeHistory{name: "csv", points: []model.PricePoint{
		{Date: 20240102, Price: 10}, {Date: 20240105, Price: math.Inf(1)},
	}}
	r := NewResolver(NewQuoteChain(time.Second), NewHistoryChain(time.Second, h))

	q, err := r.PriceOn(context.Background(), "AAPL", 20240105)
	require.NoError(t, err)
	assert.Equal(t, 20240102, q.Date)
	assert.Equal(t, 10.0, q.Price)
}

func TestLatestClose_SkipsUnusableClose(t *testing.T) {
	h := &fakeHistory{name: "influxdb", points: []model.PricePoint{
		{Date: 20240101, Price: 7}, {Date: 20240105, Price: math.NaN()},
	}}
	p, err := LatestClose{History: h}.Price(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 7.0, p)
}

func TestSynthetic_LongLookbackStaysPositive(t *testing.T) {
	s := NewSynthetic(nil, 1)
	s.now = func() time.Time { return time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC) }

	pts, err := s.History(context.Background(), "AAPL", 1825)
	require.NoError(t, err)
	require.Len(t, pts, 1825)
	for _, p := range pts {
		require.Greater(t, p.Price, 0.0, "date %d", p.Date)
		require.True(t, Valid(p.Price))
	}
	// The oldest points sit on the trend floor, not below it.
	assert.InDelta(t, DefaultAnchorPrice*minTrend, pts[0].Price, DefaultAnchorPrice*minTrend*0.06)
}

func TestSynthetic_NonFiniteAnchorUsesDefault(t *testing.T) {
	s := NewSynthetic(&fakeQuotes{name: "live", price: math.Inf(1)}, 3)
	pts, err := s.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	for _, p := range pts {
		assert.InDelta(t, DefaultAnchorPrice, p.Price, DefaultAnchorPrice*0.15)
	}
}
