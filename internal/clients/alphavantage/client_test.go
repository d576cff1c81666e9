package alphavantage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const dailyBody = `{
  "Meta Data": {"2. Symbol": "IBM"},
  "Time Series (Daily)": {
    "2024-03-05": {"1. open": "10.0", "2. high": "11.0", "3. low": "9.5", "4. close": "10.5", "5. volume": "1000"},
    "2024-03-01": {"1. open": "9.0", "2. high": "10.0", "3. low": "8.5", "4. close": "9.5", "5. volume": "900"},
    "2024-01-02": {"1. open": "8.0", "2. high": "9.0", "3. low": "7.5", "4. close": "8.5", "5. volume": "800"}
  }
}`

func newClient(t *testing.T, status int, body string) *Client {
	t.Helper()
	return newClientAt(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), status, body)
}

func newClientAt(t *testing.T, now time.Time, status int, body string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("function") != "TIME_SERIES_DAILY" || q.Get("outputsize") != "compact" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient("key", WithBaseURL(srv.URL), WithClock(func() time.Time { return now }), WithRatePerMinute(600))
}

func TestHistory_SortedAndCut(t *testing.T) {
	c := newClient(t, 200, dailyBody)

	pts, err := c.History(context.Background(), "IBM", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("expected 2 points inside cutoff, got %d", len(pts))
	}
	if pts[0].Date != 20240301 || pts[1].Date != 20240305 {
		t.Errorf("expected ascending dates, got %d %d", pts[0].Date, pts[1].Date)
	}
	if pts[1].Price != 10.5 || pts[1].High != 11 || pts[1].Low != 9.5 || pts[1].Open != 10 || pts[1].Volume != 1000 {
		t.Errorf("bar not parsed: %+v", pts[1])
	}
}

func TestHistory_CutoffEmptyReturnsAll(t *testing.T) {
	c := newClientAt(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 200, dailyBody)

	pts, err := c.History(context.Background(), "IBM", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pts) != 3 {
		t.Errorf("expected all 3 points, got %d", len(pts))
	}
}

func TestHistory_RateLimitedBodies(t *testing.T) {
	for _, body := range []string{
		`{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`,
		`{"Information": "premium endpoint"}`,
	} {
		c := newClient(t, 200, body)
		if _, err := c.History(context.Background(), "IBM", 30); !errors.Is(err, ErrRateLimited) {
			t.Errorf("expected ErrRateLimited for %s, got %v", body, err)
		}
	}
}

func TestHistory_ErrorMessage(t *testing.T) {
	c := newClient(t, 200, `{"Error Message": "Invalid API call"}`)
	_, err := c.History(context.Background(), "NOPE", 30)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected APIError, got %v", err)
	}
}

func TestHistory_TooManyRequests(t *testing.T) {
	c := newClient(t, 429, ``)
	if _, err := c.History(context.Background(), "IBM", 30); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}
