package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ladderbot/internal/alert"
	"ladderbot/internal/core"
	"ladderbot/internal/exchange"
	"ladderbot/internal/guard"
	"ladderbot/internal/ledger"
	"ladderbot/internal/obs"
	"ladderbot/internal/planner"
)

// PriceHint is an optional low-latency price source, typically a websocket
// ticker stream. It only narrows which orders get queried; the REST gateway
// stays the authority for every decision that moves money.
type PriceHint interface {
	LastPrice() (decimal.Decimal, bool)
}

// Engine drives the reconciliation loop: every tick it re-reads the ledger,
// asks the exchange what happened to each tracked order, replaces fills with
// mirror orders on the opposite side, and drops orders the exchange ended
// without a fill. The ledger on disk is the only state carried between
// ticks, so a crash at any point is repaired by the next pass.
type Engine struct {
	gateway exchange.Gateway
	ledger  *ledger.Ledger
	planner *planner.Planner
	guard   guard.Guard
	alerts  alert.Alerter
	metrics *obs.Metrics
	hint    PriceHint

	mode          string
	symbol        string
	instanceID    string
	rules         core.Rules
	tickInterval  time.Duration
	fullScanOneIn int64

	startedAt   time.Time
	newClientID func() string
	now         func() time.Time
	sample      func(n int64) int64
}

type Options struct {
	Mode          string
	Symbol        string
	InstanceID    string
	Rules         core.Rules
	TickInterval  time.Duration
	FullScanOneIn int64
	Guard         guard.Guard
	Metrics       *obs.Metrics
	PriceHint     PriceHint

	// Test seams; production uses uuid, wall clock and math/rand.
	NewClientID func() string
	Now         func() time.Time
	Sample      func(n int64) int64
}

func New(gateway exchange.Gateway, led *ledger.Ledger, pl *planner.Planner, alerts alert.Alerter, opts Options) (*Engine, error) {
	if gateway == nil || led == nil || pl == nil {
		return nil, errors.New("engine requires gateway, ledger and planner")
	}
	if opts.Symbol == "" {
		return nil, errors.New("engine requires a symbol")
	}
	if opts.TickInterval <= 0 {
		return nil, errors.New("engine requires a positive tick interval")
	}
	if opts.FullScanOneIn < 0 {
		return nil, errors.New("engine full scan rate must be >= 0")
	}
	newClientID := opts.NewClientID
	if newClientID == nil {
		newClientID = func() string { return uuid.NewString() }
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sample := opts.Sample
	if sample == nil {
		sample = rand.Int63n
	}
	return &Engine{
		gateway:       gateway,
		ledger:        led,
		planner:       pl,
		guard:         opts.Guard,
		alerts:        alerts,
		metrics:       opts.Metrics,
		hint:          opts.PriceHint,
		mode:          opts.Mode,
		symbol:        opts.Symbol,
		instanceID:    opts.InstanceID,
		rules:         opts.Rules,
		tickInterval:  opts.TickInterval,
		fullScanOneIn: opts.FullScanOneIn,
		newClientID:   newClientID,
		now:           now,
		sample:        sample,
	}, nil
}

// Run ticks immediately, then at the configured interval until the context
// is canceled. A failed pass is logged and alerted but never stops the loop;
// the next tick retries from the ledger.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = e.now()
	e.saveStatus("starting", 0, "")
	log.Printf(
		"level=INFO event=engine_started mode=%s symbol=%s instance=%s tick_interval=%s",
		e.mode,
		e.symbol,
		e.instanceID,
		e.tickInterval,
	)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()
	for {
		open, err := e.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			e.metrics.TickFailed()
			log.Printf("level=ERROR event=tick_failed symbol=%s reason=%q", e.symbol, err.Error())
			e.important("tick_failed", map[string]string{"error": err.Error()})
			e.saveStatus("degraded", open, err.Error())
		} else {
			e.saveStatus("running", open, "")
		}
		select {
		case <-ctx.Done():
			e.saveStatus("stopped", open, "")
			log.Printf("level=INFO event=engine_stopped symbol=%s", e.symbol)
			return ctx.Err()
		case <-ticker.C:
		}
	}
	e.saveStatus("stopped", 0, "")
	log.Printf("level=INFO event=engine_stopped symbol=%s", e.symbol)
	return ctx.Err()
}

// Tick runs one reconciliation pass and returns the number of open records
// left in the ledger afterwards. Passes are idempotent: rerunning after a
// crash at any point converges to the same book.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	e.metrics.TickStarted()
	records, err := e.ledger.ListOpen()
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}

	if len(records) == 0 {
		placed, err := e.planner.PlaceInitial(ctx)
		for i := 0; i < placed; i++ {
			e.metrics.OrderPlaced(string(core.Buy))
		}
		e.metrics.SetOpenOrders(placed)
		if err != nil {
			return placed, fmt.Errorf("place initial ladder: %w", err)
		}
		return placed, nil
	}

	// One REST price fetch per pass at most, taken lazily so quiet passes
	// served by the websocket hint cost no REST call.
	var restPrice decimal.Decimal
	restFetched := false
	restLive := func() (decimal.Decimal, error) {
		if restFetched {
			return restPrice, nil
		}
		price, err := e.gateway.TickerPrice(ctx, e.symbol)
		if err != nil {
			return decimal.Zero, err
		}
		restPrice = price
		restFetched = true
		return restPrice, nil
	}

	fullScan := e.fullScanOneIn == 0
	if !fullScan && e.sample(e.fullScanOneIn) == 0 {
		fullScan = true
		log.Printf("level=INFO event=full_scan_sampled symbol=%s", e.symbol)
	}

	var filterPrice decimal.Decimal
	if !fullScan {
		if hinted, ok := e.hintPrice(); ok {
			filterPrice = hinted
		} else if price, err := restLive(); err == nil {
			filterPrice = price
		} else {
			// No usable price to filter on. Querying every order is
			// always correct, just slower.
			log.Printf(
				"level=WARN event=prefilter_unavailable symbol=%s reason=%q",
				e.symbol,
				err.Error(),
			)
			fullScan = true
		}
	}

	for _, rec := range records {
		if !fullScan && !fillPlausible(rec, filterPrice) {
			continue
		}
		current, err := e.gateway.QueryOrder(ctx, e.symbol, rec.OrderID, rec.ClientID)
		if err != nil {
			if errors.Is(err, core.ErrRateLimited) {
				return e.openCount(), fmt.Errorf("query order %s: %w", rec.Key(), err)
			}
			if errors.Is(err, core.ErrOrderNotFound) {
				log.Printf(
					"level=WARN event=order_unknown_to_exchange symbol=%s client_id=%s order_id=%s",
					e.symbol,
					rec.ClientID,
					rec.OrderID,
				)
				e.important("order_unknown_to_exchange", map[string]string{
					"client_id": rec.ClientID,
					"order_id":  rec.OrderID,
				})
				continue
			}
			log.Printf(
				"level=WARN event=order_query_failed symbol=%s client_id=%s reason=%q",
				e.symbol,
				rec.ClientID,
				err.Error(),
			)
			continue
		}

		switch {
		case current.Status == core.OrderFilled:
			e.metrics.FillDetected()
			if err := e.mirror(ctx, rec); err != nil {
				if errors.Is(err, core.ErrRateLimited) {
					return e.openCount(), err
				}
				log.Printf(
					"level=WARN event=mirror_deferred symbol=%s client_id=%s reason=%q",
					e.symbol,
					rec.ClientID,
					err.Error(),
				)
			}
		case current.Status.Terminal():
			if err := e.ledger.Delete(rec); err != nil {
				return e.openCount(), fmt.Errorf("delete terminal record %s: %w", rec.Key(), err)
			}
			e.metrics.TerminalDropped()
			log.Printf(
				"level=INFO event=order_terminal symbol=%s side=%s status=%s price=%s qty=%s client_id=%s",
				e.symbol,
				rec.Side,
				current.Status,
				rec.Price,
				rec.Qty,
				rec.ClientID,
			)
			e.important("order_terminal", map[string]string{
				"side":      string(rec.Side),
				"status":    string(current.Status),
				"price":     rec.Price.String(),
				"client_id": rec.ClientID,
			})
		}
	}

	open := e.openCount()
	e.metrics.SetOpenOrders(open)
	return open, nil
}

// mirror replaces a filled order with its opposite-side twin: same quantity,
// price shifted by the rung's delta and corrected to the safe side of the
// live market. The live price is fetched fresh here rather than reused from
// the pre-filter, since the correction is only as good as its staleness. The
// original record is removed only after the exchange acknowledges the
// mirror; a crash in between leaves the fill tracked and the next pass
// retries.
func (e *Engine) mirror(ctx context.Context, rec ledger.Record) error {
	side := rec.Side.Opposite()
	price := core.MirrorPrice(rec.Side, rec.Price, rec.Delta)

	live, err := e.gateway.TickerPrice(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("fetch live price: %w", err)
	}
	corrected, err := e.guard.Correct(side, price, live)
	if err != nil {
		if errors.Is(err, guard.ErrCorrectionOverrun) {
			e.metrics.GuardOverrun()
			log.Printf(
				"level=ERROR event=mirror_guard_overrun symbol=%s side=%s price=%s live=%s client_id=%s",
				e.symbol,
				side,
				price,
				live,
				rec.ClientID,
			)
			e.important("mirror_guard_overrun", map[string]string{
				"side":      string(side),
				"price":     price.String(),
				"live":      live.String(),
				"client_id": rec.ClientID,
			})
		}
		return err
	}

	order := core.Order{
		ClientID:  e.newClientID(),
		Symbol:    e.symbol,
		Side:      side,
		Type:      core.Limit,
		Price:     corrected,
		Qty:       rec.Qty,
		Delta:     rec.Delta,
		CreatedAt: e.now(),
	}
	order, err = core.NormalizeOrder(order, e.rules)
	if err != nil {
		return fmt.Errorf("normalize mirror for %s: %w", rec.Key(), err)
	}
	accepted, err := e.gateway.PlaceOrder(ctx, order)
	if err != nil {
		return fmt.Errorf("place mirror for %s: %w", rec.Key(), err)
	}
	e.metrics.MirrorSubmitted()
	e.metrics.OrderPlaced(string(side))

	if err := e.ledger.Insert(ledger.FromOrder(accepted)); err != nil {
		// The mirror is live but untracked. Still drop the filled
		// original below, otherwise the next pass would submit a second
		// mirror for the same fill.
		log.Printf(
			"level=ERROR event=mirror_record_failed symbol=%s client_id=%s order_id=%s reason=%q",
			e.symbol,
			accepted.ClientID,
			accepted.ID,
			err.Error(),
		)
		e.important("mirror_record_failed", map[string]string{
			"client_id": accepted.ClientID,
			"order_id":  accepted.ID,
			"error":     err.Error(),
		})
	}
	if err := e.ledger.Delete(rec); err != nil {
		return fmt.Errorf("delete filled record %s: %w", rec.Key(), err)
	}
	log.Printf(
		"level=INFO event=mirror_submitted symbol=%s filled_side=%s mirror_side=%s fill_price=%s mirror_price=%s qty=%s client_id=%s order_id=%s",
		e.symbol,
		rec.Side,
		side,
		rec.Price,
		accepted.Price,
		accepted.Qty,
		accepted.ClientID,
		accepted.ID,
	)
	e.important("mirror_submitted", map[string]string{
		"filled_side":  string(rec.Side),
		"mirror_side":  string(side),
		"fill_price":   rec.Price.String(),
		"mirror_price": accepted.Price.String(),
		"qty":          accepted.Qty.String(),
	})
	return nil
}

// fillPlausible reports whether the live price makes a fill of this resting
// order possible at all: a BUY fills only when the market trades at or below
// its price, a SELL at or above.
func fillPlausible(rec ledger.Record, live decimal.Decimal) bool {
	if live.Cmp(decimal.Zero) <= 0 {
		return true
	}
	if rec.Side == core.Buy {
		return live.Cmp(rec.Price) <= 0
	}
	return live.Cmp(rec.Price) >= 0
}

func (e *Engine) hintPrice() (decimal.Decimal, bool) {
	if e.hint == nil {
		return decimal.Zero, false
	}
	return e.hint.LastPrice()
}

func (e *Engine) openCount() int {
	records, err := e.ledger.ListOpen()
	if err != nil {
		return 0
	}
	return len(records)
}

func (e *Engine) important(event string, fields map[string]string) {
	if e.alerts == nil {
		return
	}
	e.alerts.Important(event, fields)
}

func (e *Engine) saveStatus(state string, open int, lastErr string) {
	status := ledger.RuntimeStatus{
		Mode:       e.mode,
		Symbol:     e.symbol,
		InstanceID: e.instanceID,
		PID:        os.Getpid(),
		State:      state,
		StartedAt:  e.startedAt,
		UpdatedAt:  e.now(),
		LastTickAt: e.now(),
		OpenOrders: open,
		LastError:  lastErr,
	}
	if err := e.ledger.SaveRuntimeStatus(status); err != nil {
		log.Printf("level=WARN event=runtime_status_save_failed reason=%q", err.Error())
	}
}
