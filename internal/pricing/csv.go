package pricing

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/stocksim/portfolio-engine/internal/model"
	"github.com/stocksim/portfolio-engine/internal/timeseries"
)

// DateColumn is the header of the date column in the wide price file.
const DateColumn = "DATE/TICKER"

// CSVHistory serves history from a wide CSV file: one DATE/TICKER column of
// YYYYMMDD dates followed by one close-price column per ticker. Empty or
// non-positive cells are treated as missing.
type CSVHistory struct {
	series map[string][]model.PricePoint
}

// LoadCSV reads a price file from disk.
func LoadCSV(path string) (*CSVHistory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price csv: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV reads a price file.
func ParseCSV(r io.Reader) (*CSVHistory, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	dateCol := -1
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if header[i] == DateColumn {
			dateCol = i
		}
	}
	if dateCol < 0 {
		return nil, errors.New("pricing: csv has no " + DateColumn + " column")
	}

	h := &CSVHistory{series: make(map[string][]model.PricePoint)}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if dateCol >= len(row) {
			continue
		}
		date, err := timeseries.ParseDate(row[dateCol])
		if err != nil {
			continue
		}
		for i, cell := range row {
			if i == dateCol || i >= len(header) || header[i] == "" {
				continue
			}
			price, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil || !Valid(price) {
				continue
			}
			sym := strings.ToUpper(header[i])
			h.series[sym] = append(h.series[sym], model.PricePoint{Date: date, Price: price})
		}
	}
	for sym, pts := range h.series {
		h.series[sym] = timeseries.Sorted(pts)
	}
	return h, nil
}

func (h *CSVHistory) Name() string { return "csv" }

// History returns the last `days` rows for symbol.
func (h *CSVHistory) History(_ context.Context, symbol string, days int) ([]model.PricePoint, error) {
	pts := timeseries.Last(h.series[symbol], days)
	return append([]model.PricePoint(nil), pts...), nil
}

// Series returns every row for symbol.
func (h *CSVHistory) Series(symbol string) []model.PricePoint {
	return append([]model.PricePoint(nil), h.series[symbol]...)
}

// Symbols lists the tickers present in the file.
func (h *CSVHistory) Symbols() []string {
	out := make([]string, 0, len(h.series))
	for s := range h.series {
		out = append(out, s)
	}
	return out
}
