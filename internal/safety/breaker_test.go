package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

type flakyGateway struct {
	priceErr   error
	placeErr   error
	priceCalls int
	placeCalls int
}

func (f *flakyGateway) Name() string { return "flaky" }

func (f *flakyGateway) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.priceCalls++
	if f.priceErr != nil {
		return decimal.Zero, f.priceErr
	}
	return decimal.RequireFromString("2000"), nil
}

func (f *flakyGateway) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	f.placeCalls++
	if f.placeErr != nil {
		return core.Order{}, f.placeErr
	}
	order.ID = "1"
	return order, nil
}

func (f *flakyGateway) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (core.Order, error) {
	return core.Order{}, core.ErrOrderNotFound
}

func (f *flakyGateway) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.RequireFromString("100"), nil
}

func newTestGateway(t *testing.T, inner *flakyGateway, now func() time.Time) *Gateway {
	t.Helper()
	g, err := NewGateway(inner, nil, Options{
		MaxSubmitFailures: 2,
		MaxQueryFailures:  3,
		Cooldown:          time.Minute,
		Now:               now,
	})
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return g
}

func TestReadCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyGateway{priceErr: errors.New("connection reset")}
	g := newTestGateway(t, inner, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := g.TickerPrice(ctx, "ETHUSDT"); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want %v", err, ErrCircuitOpen)
	}
	if inner.priceCalls != 3 {
		t.Fatalf("inner saw %d calls, want 3 (open circuit must fail fast)", inner.priceCalls)
	}
}

func TestSubmitAndReadCircuitsAreIndependent(t *testing.T) {
	inner := &flakyGateway{placeErr: errors.New("502 bad gateway")}
	g := newTestGateway(t, inner, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := g.PlaceOrder(ctx, core.Order{}); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if _, err := g.PlaceOrder(ctx, core.Order{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("submit error = %v, want %v", err, ErrCircuitOpen)
	}
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); err != nil {
		t.Fatalf("read path error = %v, want nil while submit circuit open", err)
	}
}

func TestBusinessRejectionsDoNotTrip(t *testing.T) {
	inner := &flakyGateway{placeErr: core.ErrInsufficientBalance}
	g := newTestGateway(t, inner, nil)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := g.PlaceOrder(ctx, core.Order{}); !errors.Is(err, core.ErrInsufficientBalance) {
			t.Fatalf("call %d: error = %v, want %v", i, err, core.ErrInsufficientBalance)
		}
	}
	if inner.placeCalls != 10 {
		t.Fatalf("inner saw %d calls, want 10", inner.placeCalls)
	}
}

func TestProbeAfterCooldownClosesCircuit(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inner := &flakyGateway{priceErr: errors.New("timeout")}
	g := newTestGateway(t, inner, func() time.Time { return current })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = g.TickerPrice(ctx, "ETHUSDT")
	}
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want %v", err, ErrCircuitOpen)
	}

	// Exchange recovers; after the cooldown one probe goes through and
	// closes the circuit.
	inner.priceErr = nil
	current = current.Add(2 * time.Minute)
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); err != nil {
		t.Fatalf("post-recovery error = %v", err)
	}
}

func TestFailedProbeRestartsCooldown(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inner := &flakyGateway{priceErr: errors.New("timeout")}
	g := newTestGateway(t, inner, func() time.Time { return current })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = g.TickerPrice(ctx, "ETHUSDT")
	}

	current = current.Add(2 * time.Minute)
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("probe was not let through after cooldown")
	}
	// Probe failed; circuit must fail fast again without reaching the inner
	// gateway until another cooldown passes.
	before := inner.priceCalls
	if _, err := g.TickerPrice(ctx, "ETHUSDT"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want %v", err, ErrCircuitOpen)
	}
	if inner.priceCalls != before {
		t.Fatalf("inner reached during restarted cooldown")
	}
}
