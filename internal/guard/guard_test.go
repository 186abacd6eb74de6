package guard

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCorrectSellStepsAboveLivePrice(t *testing.T) {
	g := New(dec("3"), 0)

	// 1999.55 -> 2002.55 -> 2005.55, first value >= 2005.00.
	got, err := g.Correct(core.Sell, dec("1999.55"), dec("2005.00"))
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if !got.Equal(dec("2005.55")) {
		t.Fatalf("Correct() = %s, want 2005.55", got)
	}
}

func TestCorrectBuyStepsBelowLivePrice(t *testing.T) {
	g := New(dec("3"), 0)

	got, err := g.Correct(core.Buy, dec("2010.00"), dec("2003.00"))
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if got.Cmp(dec("2003.00")) > 0 {
		t.Fatalf("Correct() = %s, want <= live 2003.00", got)
	}
	if !got.Equal(dec("2001.00")) {
		t.Fatalf("Correct() = %s, want 2001.00", got)
	}
}

func TestCorrectNoopWhenAlreadySafe(t *testing.T) {
	g := New(dec("3"), 0)

	got, err := g.Correct(core.Sell, dec("2010.00"), dec("2005.00"))
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if !got.Equal(dec("2010.00")) {
		t.Fatalf("Correct() = %s, want unchanged 2010.00", got)
	}
}

func TestCorrectIsIdempotent(t *testing.T) {
	g := New(dec("3"), 0)

	once, err := g.Correct(core.Sell, dec("1999.55"), dec("2005.00"))
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	twice, err := g.Correct(core.Sell, once, dec("2005.00"))
	if err != nil {
		t.Fatalf("Correct() second pass error = %v", err)
	}
	if !twice.Equal(once) {
		t.Fatalf("second Correct() = %s, want %s", twice, once)
	}
}

func TestCorrectMovesByWholeSteps(t *testing.T) {
	g := New(dec("3"), 0)

	got, err := g.Correct(core.Sell, dec("1999.55"), dec("2005.00"))
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	diff := got.Sub(dec("1999.55"))
	if !diff.Mod(dec("3")).IsZero() {
		t.Fatalf("correction %s is not a whole multiple of step", diff)
	}
	if diff.IsNegative() {
		t.Fatalf("correction must be non-negative, got %s", diff)
	}
}

func TestCorrectOverrunReportsError(t *testing.T) {
	g := New(dec("0.01"), 10)

	_, err := g.Correct(core.Sell, dec("100"), dec("200"))
	if !errors.Is(err, ErrCorrectionOverrun) {
		t.Fatalf("Correct() error = %v, want %v", err, ErrCorrectionOverrun)
	}
}

func TestCorrectRejectsZeroStep(t *testing.T) {
	g := Guard{Step: decimal.Zero, MaxSteps: 10}
	if _, err := g.Correct(core.Sell, dec("100"), dec("200")); err == nil {
		t.Fatalf("Correct() accepted zero step")
	}
}
