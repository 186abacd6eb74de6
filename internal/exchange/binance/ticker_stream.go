package binance

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	tickerReadTimeout  = 90 * time.Second
	tickerMaxBackoff   = 30 * time.Second
	defaultTickerAge   = 10 * time.Second
	tickerPingInterval = 30 * time.Second
)

// TickerStream keeps a best-effort last traded price from the exchange's
// mini-ticker stream. It is an optimization input for the tick pre-filter
// only; the REST ticker stays authoritative and is re-fetched before any
// price-sensitive decision.
type TickerStream struct {
	url    string
	symbol string
	maxAge time.Duration

	mu     sync.Mutex
	last   decimal.Decimal
	seenAt time.Time
}

func NewTickerStream(wsBaseURL, symbol string, maxAge time.Duration) *TickerStream {
	if maxAge <= 0 {
		maxAge = defaultTickerAge
	}
	return &TickerStream{
		url:    strings.TrimRight(wsBaseURL, "/") + "/" + strings.ToLower(symbol) + "@miniTicker",
		symbol: symbol,
		maxAge: maxAge,
	}
}

// LastPrice returns the most recent streamed price, reporting false when no
// update has arrived within the staleness window.
func (s *TickerStream) LastPrice() (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenAt.IsZero() || time.Since(s.seenAt) > s.maxAge {
		return decimal.Zero, false
	}
	return s.last, true
}

// Run dials the stream and keeps it alive until ctx is canceled, reconnecting
// with capped exponential backoff. Failures degrade the pre-filter, never the
// reconciliation pass, so they are logged and retried rather than surfaced.
func (s *TickerStream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("level=WARN event=ticker_stream_disconnected symbol=%s err=%q backoff=%s", s.symbol, err.Error(), backoff)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > tickerMaxBackoff {
			backoff = tickerMaxBackoff
		}
	}
}

func (s *TickerStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-closed:
		}
	}()

	pinger := time.NewTicker(tickerPingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-pinger.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-ctx.Done():
				return
			case <-closed:
				return
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(tickerReadTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev miniTickerEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			continue
		}
		if ev.EventType != "24hrMiniTicker" || ev.ClosePrice == "" {
			continue
		}
		price, err := decimal.NewFromString(ev.ClosePrice)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.last = price
		s.seenAt = time.Now()
		s.mu.Unlock()
	}
}
