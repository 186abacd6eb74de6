package safety

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ladderbot/internal/alert"
	"ladderbot/internal/core"
	"ladderbot/internal/exchange"
)

// ErrCircuitOpen is returned without touching the exchange while a circuit
// is cooling down.
var ErrCircuitOpen = errors.New("circuit open")

// Gateway decorates an exchange gateway with two independent circuit
// breakers: one for order submission and one for reads (price, status,
// balance). Consecutive infrastructure failures trip the circuit; while open
// every call fails fast with ErrCircuitOpen. After the cooldown a single
// probe call is let through; its outcome either closes the circuit or starts
// a fresh cooldown.
//
// Business rejections the exchange answers cleanly (insufficient balance,
// unknown order, duplicate id) are healthy responses and never count as
// failures.
type Gateway struct {
	inner  exchange.Gateway
	alerts alert.Alerter
	submit *circuit
	read   *circuit
}

type Options struct {
	MaxSubmitFailures int
	MaxQueryFailures  int
	Cooldown          time.Duration

	// Test seam; production uses the wall clock.
	Now func() time.Time
}

func NewGateway(inner exchange.Gateway, alerts alert.Alerter, opts Options) (*Gateway, error) {
	if inner == nil {
		return nil, errors.New("breaker requires a gateway")
	}
	if opts.MaxSubmitFailures < 1 || opts.MaxQueryFailures < 1 {
		return nil, errors.New("breaker failure thresholds must be >= 1")
	}
	if opts.Cooldown <= 0 {
		return nil, errors.New("breaker cooldown must be > 0")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Gateway{
		inner:  inner,
		alerts: alerts,
		submit: &circuit{name: "submit", max: opts.MaxSubmitFailures, cooldown: opts.Cooldown, now: now},
		read:   &circuit{name: "read", max: opts.MaxQueryFailures, cooldown: opts.Cooldown, now: now},
	}, nil
}

func (g *Gateway) Name() string { return g.inner.Name() }

func (g *Gateway) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if !g.read.allow() {
		return decimal.Zero, fmt.Errorf("%w: read", ErrCircuitOpen)
	}
	price, err := g.inner.TickerPrice(ctx, symbol)
	g.observe(g.read, err)
	return price, err
}

func (g *Gateway) PlaceOrder(ctx context.Context, order core.Order) (core.Order, error) {
	if !g.submit.allow() {
		return core.Order{}, fmt.Errorf("%w: submit", ErrCircuitOpen)
	}
	accepted, err := g.inner.PlaceOrder(ctx, order)
	g.observe(g.submit, err)
	return accepted, err
}

func (g *Gateway) QueryOrder(ctx context.Context, symbol, orderID, clientID string) (core.Order, error) {
	if !g.read.allow() {
		return core.Order{}, fmt.Errorf("%w: read", ErrCircuitOpen)
	}
	order, err := g.inner.QueryOrder(ctx, symbol, orderID, clientID)
	g.observe(g.read, err)
	return order, err
}

func (g *Gateway) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if !g.read.allow() {
		return decimal.Zero, fmt.Errorf("%w: read", ErrCircuitOpen)
	}
	free, err := g.inner.FreeBalance(ctx, asset)
	g.observe(g.read, err)
	return free, err
}

func (g *Gateway) observe(c *circuit, err error) {
	if err == nil || isBusinessError(err) {
		if c.success() {
			log.Printf("level=INFO event=circuit_closed circuit=%s", c.name)
			g.important("circuit_closed", map[string]string{"circuit": c.name})
		}
		return
	}
	if failures, opened := c.failure(); opened {
		log.Printf(
			"level=ERROR event=circuit_opened circuit=%s failures=%d cooldown=%s",
			c.name,
			failures,
			c.cooldown,
		)
		g.important("circuit_opened", map[string]string{
			"circuit":  c.name,
			"failures": fmt.Sprintf("%d", failures),
			"error":    err.Error(),
		})
	}
}

func (g *Gateway) important(event string, fields map[string]string) {
	if g.alerts == nil {
		return
	}
	g.alerts.Important(event, fields)
}

// isBusinessError reports whether the exchange answered with a clean
// domain-level rejection rather than an infrastructure fault. Rate limiting
// is deliberately counted as a failure so a throttling exchange trips the
// circuit.
func isBusinessError(err error) bool {
	switch {
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrDuplicateOrder),
		errors.Is(err, core.ErrOrderNotFound),
		errors.Is(err, core.ErrOrderRejected),
		errors.Is(err, core.ErrOrderExpired):
		return true
	}
	return false
}

type circuit struct {
	name     string
	max      int
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	failures int
	open     bool
	probing  bool
	openedAt time.Time
}

func (c *circuit) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return true
	}
	if c.now().Sub(c.openedAt) < c.cooldown {
		return false
	}
	if c.probing {
		return false
	}
	c.probing = true
	return true
}

// success reports whether the call closed a previously open circuit.
func (c *circuit) success() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOpen := c.open
	c.failures = 0
	c.open = false
	c.probing = false
	return wasOpen
}

// failure reports the consecutive failure count and whether this call
// tripped the circuit open.
func (c *circuit) failure() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.open {
		// Failed probe: restart the cooldown without re-alerting.
		c.openedAt = c.now()
		c.probing = false
		return c.failures, false
	}
	if c.failures >= c.max {
		c.open = true
		c.probing = false
		c.openedAt = c.now()
		return c.failures, true
	}
	return c.failures, false
}
