package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ladderbot/internal/alert"
	"ladderbot/internal/core"
	"ladderbot/internal/exchange"
	"ladderbot/internal/ledger"
)

var one = decimal.NewFromInt(1)

// Planner seeds an empty book with the initial BUY ladder: one resting limit
// order per configured offset, priced below the live market. It runs only
// when the ledger reports no open orders; once the ladder exists the
// reconciliation loop keeps the book populated through mirroring.
type Planner struct {
	gateway exchange.Gateway
	ledger  *ledger.Ledger
	alerts  alert.Alerter

	symbol       string
	quoteAsset   string
	budget       decimal.Decimal
	offsets      []decimal.Decimal
	safetyMargin decimal.Decimal
	rules        core.Rules

	newClientID func() string
	now         func() time.Time
}

type Options struct {
	Symbol       string
	QuoteAsset   string
	Budget       decimal.Decimal
	Offsets      []decimal.Decimal
	SafetyMargin decimal.Decimal
	Rules        core.Rules

	// Test seams; production uses uuid and wall clock.
	NewClientID func() string
	Now         func() time.Time
}

func New(gateway exchange.Gateway, led *ledger.Ledger, alerts alert.Alerter, opts Options) (*Planner, error) {
	if gateway == nil {
		return nil, errors.New("planner requires a gateway")
	}
	if led == nil {
		return nil, errors.New("planner requires a ledger")
	}
	if opts.Symbol == "" || opts.QuoteAsset == "" {
		return nil, errors.New("planner requires symbol and quote asset")
	}
	if len(opts.Offsets) == 0 {
		return nil, errors.New("planner requires at least one ladder offset")
	}
	if opts.Budget.Cmp(decimal.Zero) <= 0 {
		return nil, errors.New("planner requires a positive budget")
	}
	newClientID := opts.NewClientID
	if newClientID == nil {
		newClientID = func() string { return uuid.NewString() }
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Planner{
		gateway:      gateway,
		ledger:       led,
		alerts:       alerts,
		symbol:       opts.Symbol,
		quoteAsset:   opts.QuoteAsset,
		budget:       opts.Budget,
		offsets:      opts.Offsets,
		safetyMargin: opts.SafetyMargin,
		rules:        opts.Rules,
		newClientID:  newClientID,
		now:          now,
	}, nil
}

// PlaceInitial computes and submits the initial BUY ladder, one rung per
// offset, and returns the number of accepted orders. Funding is capped at
// min(free balance, budget), shaved by the safety margin, then split evenly
// across the rungs. If the capped funds cannot clear the exchange minimum
// notional on every rung the ladder is skipped entirely rather than placed
// partially.
//
// Rung submission is best effort: a rejected or failed rung is logged and
// skipped while the remaining rungs still go out. Only a throttling error
// aborts the pass, so the exchange gets breathing room before the next tick.
func (p *Planner) PlaceInitial(ctx context.Context) (int, error) {
	free, err := p.gateway.FreeBalance(ctx, p.quoteAsset)
	if err != nil {
		return 0, fmt.Errorf("query %s balance: %w", p.quoteAsset, err)
	}
	tradable := decimal.Min(free, p.budget)
	rungs := int64(len(p.offsets))
	required := p.rules.MinNotional.Mul(decimal.NewFromInt(rungs))
	if tradable.Cmp(required) < 0 {
		log.Printf(
			"level=WARN event=ladder_skipped reason=insufficient_funds symbol=%s tradable=%s required=%s rungs=%d",
			p.symbol,
			tradable,
			required,
			rungs,
		)
		p.important("ladder_skipped", map[string]string{
			"reason":   "insufficient_funds",
			"tradable": tradable.String(),
			"required": required.String(),
		})
		return 0, nil
	}

	live, err := p.gateway.TickerPrice(ctx, p.symbol)
	if err != nil {
		return 0, fmt.Errorf("query %s price: %w", p.symbol, err)
	}
	alloc := tradable.Mul(one.Sub(p.safetyMargin)).Div(decimal.NewFromInt(rungs))
	log.Printf(
		"level=INFO event=ladder_planned symbol=%s live_price=%s tradable=%s per_rung=%s rungs=%d",
		p.symbol,
		live,
		tradable,
		alloc,
		rungs,
	)

	placed := 0
	for _, delta := range p.offsets {
		price := core.BuyPrice(live, delta)
		order := core.Order{
			ClientID:  p.newClientID(),
			Symbol:    p.symbol,
			Side:      core.Buy,
			Type:      core.Limit,
			Price:     price,
			Qty:       alloc.Div(price),
			Delta:     delta,
			CreatedAt: p.now(),
		}
		order, err := core.NormalizeOrder(order, p.rules)
		if err != nil {
			log.Printf(
				"level=WARN event=ladder_rung_skipped symbol=%s delta=%s price=%s reason=%q",
				p.symbol,
				delta,
				price,
				err.Error(),
			)
			continue
		}
		accepted, err := p.gateway.PlaceOrder(ctx, order)
		if err != nil {
			if errors.Is(err, core.ErrRateLimited) {
				log.Printf(
					"level=WARN event=ladder_aborted reason=rate_limited symbol=%s placed=%d",
					p.symbol,
					placed,
				)
				return placed, err
			}
			log.Printf(
				"level=WARN event=ladder_rung_failed symbol=%s delta=%s price=%s reason=%q",
				p.symbol,
				delta,
				order.Price,
				err.Error(),
			)
			continue
		}
		if err := p.ledger.Insert(ledger.FromOrder(accepted)); err != nil {
			// The order is live on the exchange but untracked. Loudest
			// possible signal; the operator has to reconcile by hand.
			log.Printf(
				"level=ERROR event=ladder_record_failed symbol=%s client_id=%s order_id=%s reason=%q",
				p.symbol,
				accepted.ClientID,
				accepted.ID,
				err.Error(),
			)
			p.important("ladder_record_failed", map[string]string{
				"client_id": accepted.ClientID,
				"order_id":  accepted.ID,
				"error":     err.Error(),
			})
			continue
		}
		placed++
		log.Printf(
			"level=INFO event=ladder_rung_placed symbol=%s side=BUY delta=%s price=%s qty=%s client_id=%s order_id=%s",
			p.symbol,
			delta,
			accepted.Price,
			accepted.Qty,
			accepted.ClientID,
			accepted.ID,
		)
	}
	if placed > 0 {
		p.important("ladder_placed", map[string]string{
			"rungs":    fmt.Sprintf("%d", placed),
			"tradable": tradable.String(),
		})
	}
	return placed, nil
}

func (p *Planner) important(event string, fields map[string]string) {
	if p.alerts == nil {
		return
	}
	p.alerts.Important(event, fields)
}
