// Package alphavantage provides a client for the Alpha Vantage daily time
// series endpoint.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stocksim/portfolio-engine/internal/model"
)

const (
	DefaultBaseURL = "https://www.alphavantage.co"
	DefaultTimeout = 20 * time.Second
	// The free tier allows a handful of requests per minute.
	DefaultRatePerMinute = 5
)

var (
	// ErrRateLimited is returned for "Note" and "Information" responses.
	ErrRateLimited = errors.New("alphavantage: rate limited")
	// ErrNoSeries is returned when the response has no daily series.
	ErrNoSeries = errors.New("alphavantage: no time series in response")
)

// Client fetches daily OHLCV history.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRatePerMinute sets the request budget.
func WithRatePerMinute(n int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}
}

// WithClock overrides the clock used for the cutoff date.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/DefaultRatePerMinute), DefaultRatePerMinute),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError represents an error response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alphavantage API error: %s (status: %d)", e.Message, e.StatusCode)
}

type dailyResponse struct {
	ErrorMessage string                       `json:"Error Message"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	Series       map[string]map[string]string `json:"Time Series (Daily)"`
}

// Name identifies the client in fallback chains.
func (c *Client) Name() string { return "alphavantage" }

// History returns up to `days` calendar days of daily bars, oldest first.
// When the cutoff removes every bar, all returned bars are used instead.
func (c *Client) History(ctx context.Context, symbol string, days int) ([]model.PricePoint, error) {
	if c.apiKey == "" {
		return nil, errors.New("alphavantage: api key not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)
	params.Set("outputsize", "compact")
	reqURL := fmt.Sprintf("%s/query?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var body dailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	switch {
	case body.ErrorMessage != "":
		return nil, &APIError{StatusCode: resp.StatusCode, Message: body.ErrorMessage}
	case body.Note != "":
		return nil, fmt.Errorf("%s: %w: %s", symbol, ErrRateLimited, body.Note)
	case body.Information != "":
		return nil, fmt.Errorf("%s: %w: %s", symbol, ErrRateLimited, body.Information)
	case len(body.Series) == 0:
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoSeries)
	}

	all := make([]model.PricePoint, 0, len(body.Series))
	for day, bar := range body.Series {
		p, ok := parseBar(day, bar)
		if !ok {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Date < all[j].Date })

	cutoff := dateInt(c.now().AddDate(0, 0, -days))
	var out []model.PricePoint
	for _, p := range all {
		if p.Date >= cutoff {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return all, nil
	}
	return out, nil
}

func parseBar(day string, bar map[string]string) (model.PricePoint, bool) {
	date, err := strconv.Atoi(strings.ReplaceAll(day, "-", ""))
	if err != nil {
		return model.PricePoint{}, false
	}
	close, err := strconv.ParseFloat(bar["4. close"], 64)
	if err != nil {
		return model.PricePoint{}, false
	}
	p := model.PricePoint{Date: date, Price: close}
	p.Open, _ = strconv.ParseFloat(bar["1. open"], 64)
	p.High, _ = strconv.ParseFloat(bar["2. high"], 64)
	p.Low, _ = strconv.ParseFloat(bar["3. low"], 64)
	p.Volume, _ = strconv.ParseFloat(bar["5. volume"], 64)
	return p, true
}

func dateInt(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
