// Package correlation computes pairwise Pearson correlation of return
// series and classifies pairs into hedging bands.
//
// Negative pairs hedge each other, low pairs diversify, and high pairs move
// together and are surfaced only as risk warnings.
package correlation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/stocksim/portfolio-engine/internal/model"
)

// ErrInsufficientData is returned when fewer than two symbols carry data.
var ErrInsufficientData = errors.New("correlation: at least 2 symbols with data are required")

// Band thresholds.
const (
	HighThreshold     = 0.7
	ModerateThreshold = 0.3
	LowThreshold      = -0.3
)

// Pearson correlates two series over their common prefix. Returns 0 when
// either side has fewer than two points or zero variance.
func Pearson(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n < 2 {
		return 0
	}
	c := stat.Correlation(a[:n], b[:n], nil)
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return math.Max(-1, math.Min(c, 1))
}

// Classify maps a correlation to its band.
func Classify(c float64) string {
	switch {
	case c >= HighThreshold:
		return model.BandHigh
	case c >= ModerateThreshold:
		return model.BandModerate
	case c >= LowThreshold:
		return model.BandLow
	default:
		return model.BandNegative
	}
}

// Matrix is a symmetric correlation matrix with unit diagonal.
type Matrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// At returns the correlation of symbols i and j.
func (m *Matrix) At(i, j int) float64 { return m.Values[i][j] }

// Get looks up a pair by symbol; ok is false if either is absent.
func (m *Matrix) Get(a, b string) (float64, bool) {
	i, j := m.index(a), m.index(b)
	if i < 0 || j < 0 {
		return 0, false
	}
	return m.Values[i][j], true
}

func (m *Matrix) index(sym string) int {
	for i, s := range m.Symbols {
		if s == sym {
			return i
		}
	}
	return -1
}

// AsMap renders the matrix as a nested symbol map.
func (m Matrix) AsMap() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(m.Symbols))
	for i, a := range m.Symbols {
		row := make(map[string]float64, len(m.Symbols))
		for j, b := range m.Symbols {
			row[b] = m.Values[i][j]
		}
		out[a] = row
	}
	return out
}

// BuildMatrix correlates every pair of the given return series. Series
// order follows symbols; symbols with no returns are skipped.
func BuildMatrix(symbols []string, returns map[string][]float64) (*Matrix, error) {
	valid := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if len(returns[s]) > 0 {
			valid = append(valid, s)
		}
	}
	if len(valid) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientData, len(valid))
	}

	n := len(valid)
	vals := make([][]float64, n)
	for i := range vals {
		vals[i] = make([]float64, n)
		vals[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := Pearson(returns[valid[i]], returns[valid[j]])
			vals[i][j] = c
			vals[j][i] = c
		}
	}
	return &Matrix{Symbols: valid, Values: vals}, nil
}

// Suggestion types.
const (
	SuggestNegative = "negative_correlation"
	SuggestLow      = "low_correlation"
)

// Suggestion is a hedging or diversification idea for one pair.
type Suggestion struct {
	Type        string  `json:"type"`
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
	HedgeRatio  float64 `json:"hedge_ratio"`
	Text        string  `json:"suggestion"`
}

// Warning flags a highly correlated pair.
type Warning struct {
	SymbolA     string  `json:"symbol_a"`
	SymbolB     string  `json:"symbol_b"`
	Correlation float64 `json:"correlation"`
	Text        string  `json:"warning"`
}

// Summary counts pairs per band of interest.
type Summary struct {
	TotalPairs    int `json:"total_pairs"`
	NegativePairs int `json:"negative_pairs"`
	LowPairs      int `json:"low_pairs"`
	HighPairs     int `json:"high_pairs"`
}

// Report is the full hedge analysis.
type Report struct {
	Symbols     []string                      `json:"symbols"`
	Matrix      map[string]map[string]float64 `json:"correlation_matrix"`
	Pairs       []model.CorrelationPair       `json:"correlation_pairs"`
	Suggestions []Suggestion                  `json:"hedge_suggestions"`
	Warnings    []Warning                     `json:"risk_warnings"`
	Summary     Summary                       `json:"summary"`
}

// round4 rounds a reported correlation to 4 decimal places.
func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }

// Analyze builds the matrix, classifies every unordered pair and derives
// hedge suggestions: negative pairs most-negative first with ratio
// |1/corr|, then low pairs ascending with ratio 1. High pairs become
// warnings, highest first.
func Analyze(symbols []string, returns map[string][]float64) (*Report, error) {
	m, err := BuildMatrix(symbols, returns)
	if err != nil {
		return nil, err
	}

	var pairs []model.CorrelationPair
	for i := 0; i < len(m.Symbols); i++ {
		for j := i + 1; j < len(m.Symbols); j++ {
			c := m.Values[i][j]
			pairs = append(pairs, model.CorrelationPair{
				SymbolA:     m.Symbols[i],
				SymbolB:     m.Symbols[j],
				Correlation: round4(c),
				Category:    Classify(c),
			})
		}
	}

	byBand := func(band string) []model.CorrelationPair {
		var out []model.CorrelationPair
		for _, p := range pairs {
			if p.Category == band {
				out = append(out, p)
			}
		}
		return out
	}

	negative := byBand(model.BandNegative)
	sort.SliceStable(negative, func(i, j int) bool { return negative[i].Correlation < negative[j].Correlation })
	low := byBand(model.BandLow)
	sort.SliceStable(low, func(i, j int) bool { return low[i].Correlation < low[j].Correlation })
	high := byBand(model.BandHigh)
	sort.SliceStable(high, func(i, j int) bool { return high[i].Correlation > high[j].Correlation })

	suggestions := make([]Suggestion, 0, len(negative)+len(low))
	for _, p := range negative {
		suggestions = append(suggestions, Suggestion{
			Type:        SuggestNegative,
			SymbolA:     p.SymbolA,
			SymbolB:     p.SymbolB,
			Correlation: p.Correlation,
			HedgeRatio:  math.Round(math.Abs(1/p.Correlation)*100) / 100,
			Text:        fmt.Sprintf("Buy %s + Buy %s (negative correlation hedges risk)", p.SymbolA, p.SymbolB),
		})
	}
	for _, p := range low {
		suggestions = append(suggestions, Suggestion{
			Type:        SuggestLow,
			SymbolA:     p.SymbolA,
			SymbolB:     p.SymbolB,
			Correlation: p.Correlation,
			HedgeRatio:  1,
			Text:        fmt.Sprintf("Buy %s + Buy %s (low correlation for diversification)", p.SymbolA, p.SymbolB),
		})
	}

	warnings := make([]Warning, 0, len(high))
	for _, p := range high {
		warnings = append(warnings, Warning{
			SymbolA:     p.SymbolA,
			SymbolB:     p.SymbolB,
			Correlation: p.Correlation,
			Text:        fmt.Sprintf("%s and %s are highly correlated - no hedging benefit", p.SymbolA, p.SymbolB),
		})
	}

	return &Report{
		Symbols:     m.Symbols,
		Matrix:      m.AsMap(),
		Pairs:       pairs,
		Suggestions: suggestions,
		Warnings:    warnings,
		Summary: Summary{
			TotalPairs:    len(pairs),
			NegativePairs: len(negative),
			LowPairs:      len(low),
			HighPairs:     len(high),
		},
	}, nil
}
