package guard

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

// ErrCorrectionOverrun reports a correction that did not converge within the
// step budget, which only happens with a misconfigured step.
var ErrCorrectionOverrun = errors.New("price correction exceeded step budget")

const DefaultMaxSteps = 10000

// Guard nudges a freshly computed mirror price out of the immediately
// marketable zone. A SELL resting below the live price (or a BUY above it)
// would fill instantly at a loss relative to the intended spread, so the
// price is stepped past the live price instead.
type Guard struct {
	Step     decimal.Decimal
	MaxSteps int64
}

func New(step decimal.Decimal, maxSteps int64) Guard {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return Guard{Step: step, MaxSteps: maxSteps}
}

// Correct returns the first price at or past livePrice reachable from
// computedPrice in whole steps toward the safe side. The result is already
// safe when no correction is needed, making Correct idempotent: a corrected
// price passes through unchanged.
func (g Guard) Correct(side core.Side, computedPrice, livePrice decimal.Decimal) (decimal.Decimal, error) {
	if g.Step.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, fmt.Errorf("correction step must be > 0, got %s", g.Step)
	}
	price := computedPrice
	var steps int64
	switch side {
	case core.Sell:
		for price.Cmp(livePrice) < 0 {
			price = price.Add(g.Step)
			steps++
			if steps > g.MaxSteps {
				return decimal.Zero, fmt.Errorf("%w: side=%s computed=%s live=%s step=%s", ErrCorrectionOverrun, side, computedPrice, livePrice, g.Step)
			}
		}
	case core.Buy:
		for price.Cmp(livePrice) > 0 {
			price = price.Sub(g.Step)
			steps++
			if steps > g.MaxSteps {
				return decimal.Zero, fmt.Errorf("%w: side=%s computed=%s live=%s step=%s", ErrCorrectionOverrun, side, computedPrice, livePrice, g.Step)
			}
		}
	default:
		return decimal.Zero, fmt.Errorf("unknown side %q", side)
	}
	return price, nil
}
