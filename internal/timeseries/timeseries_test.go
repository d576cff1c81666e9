package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/model"
)

func pt(date int, price float64) model.PricePoint {
	return model.PricePoint{Date: date, Price: price}
}

func TestFillMissingDates_CarriesForward(t *testing.T) {
	in := []model.PricePoint{pt(20200101, 100), pt(20200103, 110)}
	out := FillMissingDates(in, []int{20200101, 20200102, 20200103})

	require.Len(t, out, 3)
	assert.Equal(t, pt(20200101, 100), out[0])
	assert.Equal(t, pt(20200102, 100), out[1])
	assert.Equal(t, pt(20200103, 110), out[2])
}

func TestFillMissingDates_LeadingGapIsZero(t *testing.T) {
	in := []model.PricePoint{pt(20200103, 50)}
	out := FillMissingDates(in, []int{20200101, 20200102, 20200103})

	require.Len(t, out, 3)
	assert.Equal(t, 0.0, out[0].Price)
	assert.Equal(t, 0.0, out[1].Price)
	assert.Equal(t, 50.0, out[2].Price)
}

func TestFillMissingDates_NeverDropsPoints(t *testing.T) {
	in := []model.PricePoint{pt(20200105, 10), pt(20200101, 8)}
	out := FillMissingDates(in, []int{20200102})

	require.Len(t, out, 3)
	assert.Equal(t, []int{20200101, 20200102, 20200105}, []int{out[0].Date, out[1].Date, out[2].Date})
	assert.Equal(t, 8.0, out[1].Price)
}

func TestFillMissingDates_Idempotent(t *testing.T) {
	in := []model.PricePoint{pt(20200102, 5), pt(20200104, 7)}
	dates := []int{20200101, 20200102, 20200103, 20200104, 20200105}

	once := FillMissingDates(in, dates)
	twice := FillMissingDates(once, dates)
	assert.Equal(t, once, twice)
}

func TestFillMissingDates_KeepsOHLC(t *testing.T) {
	in := []model.PricePoint{{Date: 20200101, Price: 10, High: 11, Low: 9, Open: 9.5, Volume: 1000}}
	out := FillMissingDates(in, []int{20200101})
	require.Len(t, out, 1)
	assert.Equal(t, in[0], out[0])
}

func TestAlign_CommonGrid(t *testing.T) {
	dates, aligned := Align(map[string][]model.PricePoint{
		"AAPL": {pt(20200101, 100), pt(20200103, 102)},
		"MSFT": {pt(20200102, 200)},
	})

	assert.Equal(t, []int{20200101, 20200102, 20200103}, dates)
	require.Len(t, aligned["AAPL"], 3)
	require.Len(t, aligned["MSFT"], 3)
	assert.Equal(t, 100.0, aligned["AAPL"][1].Price)
	assert.Equal(t, 0.0, aligned["MSFT"][0].Price)
	assert.Equal(t, 200.0, aligned["MSFT"][2].Price)
}

func TestWindow_IndependentBounds(t *testing.T) {
	in := []model.PricePoint{pt(20200101, 1), pt(20200201, 2), pt(20200301, 3)}

	assert.Len(t, Window(in, 20200115, 0), 2)
	assert.Len(t, Window(in, 0, 20200215), 2)
	assert.Len(t, Window(in, 20200115, 20200215), 1)
	assert.Len(t, Window(in, 0, 0), 3)
	assert.Empty(t, Window(in, 20210101, 0))
}

func TestNearest_ExactMatch(t *testing.T) {
	in := []model.PricePoint{pt(20200101, 1), pt(20200105, 5)}
	p, ok := Nearest(in, 20200105)
	require.True(t, ok)
	assert.Equal(t, 5.0, p.Price)
}

func TestNearest_ClosestAcrossMonthBoundary(t *testing.T) {
	// 20200131 is one day from 20200201, even though the integers differ by 70.
	in := []model.PricePoint{pt(20200125, 1), pt(20200131, 2)}
	p, ok := Nearest(in, 20200201)
	require.True(t, ok)
	assert.Equal(t, 20200131, p.Date)
}

func TestNearest_TieGoesToEarlier(t *testing.T) {
	in := []model.PricePoint{pt(20200105, 5), pt(20200101, 1)}
	p, ok := Nearest(in, 20200103)
	require.True(t, ok)
	assert.Equal(t, 20200101, p.Date)
}

func TestNearest_Empty(t *testing.T) {
	_, ok := Nearest(nil, 20200101)
	assert.False(t, ok)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 20240315, d)

	d, err = ParseDate("20240315")
	require.NoError(t, err)
	assert.Equal(t, 20240315, d)

	_, err = ParseDate("2024-13-01")
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = ParseDate("yesterday")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDateRoundTrip(t *testing.T) {
	tm := time.Date(2023, 12, 31, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, 20231231, DateOf(tm))
	assert.Equal(t, "2023-12-31", FormatDate(20231231))
	assert.True(t, TimeOf(20231231).Equal(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)))
}

func TestLastAndLatest(t *testing.T) {
	in := []model.PricePoint{pt(20200101, 1), pt(20200102, 2), pt(20200103, 3)}
	assert.Len(t, Last(in, 2), 2)
	assert.Len(t, Last(in, 10), 3)

	p, ok := Latest([]model.PricePoint{pt(20200103, 3), pt(20200101, 1)})
	require.True(t, ok)
	assert.Equal(t, 3.0, p.Price)
}
