// Package timeseries aligns sparse daily price series onto a common date
// grid and provides date lookups over them.
//
// Dates are integers in YYYYMMDD form. All functions treat their inputs as
// read-only and return fresh slices.
package timeseries

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/stocksim/portfolio-engine/internal/model"
)

var ErrInvalidDate = errors.New("timeseries: invalid date")

// ParseDate accepts YYYY-MM-DD or YYYYMMDD and returns the integer form.
func ParseDate(s string) (int, error) {
	s = strings.TrimSpace(s)
	layout := "20060102"
	if strings.Contains(s, "-") {
		layout = "2006-01-02"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return DateOf(t), nil
}

// DateOf converts a time to its YYYYMMDD integer in UTC.
func DateOf(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// TimeOf converts a YYYYMMDD integer to midnight UTC.
func TimeOf(date int) time.Time {
	return time.Date(date/10000, time.Month(date/100%100), date%100, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a YYYYMMDD integer as YYYY-MM-DD.
func FormatDate(date int) string {
	return TimeOf(date).Format("2006-01-02")
}

// daysBetween is the absolute calendar distance between two dates.
func daysBetween(a, b int) int {
	d := TimeOf(a).Sub(TimeOf(b)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d + 0.5)
}

// Sorted returns a copy of points ordered by date ascending.
func Sorted(points []model.PricePoint) []model.PricePoint {
	out := slices.Clone(points)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// FillMissingDates returns a dense series covering every date in dates plus
// every date already present in points, in ascending order. A missing date
// carries forward the most recent emitted price, or 0 before the first
// observation. Existing points are never dropped, so the function is
// idempotent on its own output.
func FillMissingDates(points []model.PricePoint, dates []int) []model.PricePoint {
	byDate := make(map[int]model.PricePoint, len(points))
	grid := make([]int, 0, len(points)+len(dates))
	for _, p := range points {
		if _, ok := byDate[p.Date]; !ok {
			grid = append(grid, p.Date)
		}
		byDate[p.Date] = p
	}
	for _, d := range dates {
		if _, ok := byDate[d]; !ok {
			grid = append(grid, d)
		}
	}
	slices.Sort(grid)
	grid = slices.Compact(grid)

	out := make([]model.PricePoint, 0, len(grid))
	last := 0.0
	for _, d := range grid {
		if p, ok := byDate[d]; ok {
			out = append(out, p)
			last = p.Price
			continue
		}
		out = append(out, model.PricePoint{Date: d, Price: last})
	}
	return out
}

// UnionDates returns the sorted set of all dates present in any series.
func UnionDates(series map[string][]model.PricePoint) []int {
	var dates []int
	for _, pts := range series {
		for _, p := range pts {
			dates = append(dates, p.Date)
		}
	}
	slices.Sort(dates)
	return slices.Compact(dates)
}

// Align fills every series onto the union date grid of all series. The
// returned series all have the same length and dates.
func Align(series map[string][]model.PricePoint) ([]int, map[string][]model.PricePoint) {
	dates := UnionDates(series)
	out := make(map[string][]model.PricePoint, len(series))
	for sym, pts := range series {
		out[sym] = FillMissingDates(pts, dates)
	}
	return dates, out
}

// Window returns the points with start <= date <= end. A zero bound is
// treated as open, and each bound applies independently.
func Window(points []model.PricePoint, start, end int) []model.PricePoint {
	var out []model.PricePoint
	for _, p := range points {
		if start != 0 && p.Date < start {
			continue
		}
		if end != 0 && p.Date > end {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Since returns the points on or after date.
func Since(points []model.PricePoint, date int) []model.PricePoint {
	return Window(points, date, 0)
}

// Last returns at most the final n points of an ascending series.
func Last(points []model.PricePoint, n int) []model.PricePoint {
	if n <= 0 || len(points) <= n {
		return points
	}
	return points[len(points)-n:]
}

// Latest returns the point with the greatest date.
func Latest(points []model.PricePoint) (model.PricePoint, bool) {
	if len(points) == 0 {
		return model.PricePoint{}, false
	}
	best := points[0]
	for _, p := range points[1:] {
		if p.Date > best.Date {
			best = p
		}
	}
	return best, true
}

// Nearest returns the point on date if present, else the chronologically
// closest point. Ties go to the earlier date.
func Nearest(points []model.PricePoint, date int) (model.PricePoint, bool) {
	if len(points) == 0 {
		return model.PricePoint{}, false
	}
	for _, p := range points {
		if p.Date == date {
			return p, true
		}
	}
	ordered := Sorted(points)
	sort.SliceStable(ordered, func(i, j int) bool {
		return daysBetween(ordered[i].Date, date) < daysBetween(ordered[j].Date, date)
	})
	return ordered[0], true
}
