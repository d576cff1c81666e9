// Package symbol handles ticker symbol parsing and normalization.
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches exchange tickers after upper-casing.
// Examples: AAPL, BRK.B, RDS-A, 7203.T
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)

var (
	ErrInvalidSymbol = errors.New("symbol: invalid ticker symbol")
	ErrEmptySymbol   = errors.New("symbol: ticker symbol is required")
)

// Normalize trims and upper-cases a ticker and validates its format.
func Normalize(ticker string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(ticker))
	if s == "" {
		return "", ErrEmptySymbol
	}
	if !tickerRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, ticker)
	}
	return s, nil
}

// NormalizeAll normalizes a list of tickers, dropping duplicates while
// preserving first-seen order.
func NormalizeAll(tickers []string) ([]string, error) {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		s, err := Normalize(t)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}
