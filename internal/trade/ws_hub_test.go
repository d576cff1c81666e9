package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stocksim/portfolio-engine/internal/events"
	"github.com/stocksim/portfolio-engine/internal/trade"
)

func TestWSHub_BroadcastsExecutedTrades(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.hub.Run(ctx)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	body, _ := json.Marshal(trade.OrderRequest{UserID: "alice", Symbol: "AAPL", Quantity: 3})
	resp, err := http.Post(srv.URL+"/api/v1/trade/buy", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if ev.Type != events.TypeTrade || ev.Symbol != "AAPL" || ev.Quantity != 3 || ev.OwnerID != "alice" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestWSHub_PublishDropsWhenBacklogged(t *testing.T) {
	hub := trade.NewWSHub()
	ctx := context.Background()

	// Nothing drains the buffer without Run.
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		err = hub.Publish(ctx, events.Event{Type: events.TypeTrade, Symbol: "AAPL"})
	}
	if err != trade.ErrHubBacklogged {
		t.Errorf("expected ErrHubBacklogged, got %v", err)
	}
	if hub.Name() != "websocket" {
		t.Errorf("unexpected name %q", hub.Name())
	}
}
