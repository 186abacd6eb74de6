package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestTickerStreamUpdatesLastPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "ethusdt@miniTicker") {
			t.Errorf("unexpected stream path: %s", r.URL.Path)
		}
		upgrader := websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		msg := `{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"2005.00"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := NewTickerStream("ws"+strings.TrimPrefix(srv.URL, "http"), "ETHUSDT", time.Minute)
	go stream.Run(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if price, ok := stream.LastPrice(); ok {
			if !price.Equal(decimal.RequireFromString("2005.00")) {
				t.Fatalf("LastPrice() = %s, want 2005.00", price)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for streamed price")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTickerStreamStaleness(t *testing.T) {
	stream := NewTickerStream("ws://unused", "ETHUSDT", 10*time.Millisecond)
	stream.mu.Lock()
	stream.last = decimal.RequireFromString("2000.00")
	stream.seenAt = time.Now().Add(-time.Second)
	stream.mu.Unlock()

	if _, ok := stream.LastPrice(); ok {
		t.Fatalf("stale price must not be served")
	}
}
