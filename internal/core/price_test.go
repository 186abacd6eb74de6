package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSellPriceRoundsToTwoDecimals(t *testing.T) {
	cases := []struct {
		price string
		delta string
		want  string
	}{
		{"1970.00", "1.5", "1999.55"},
		{"2000.00", "0.5", "2010.00"},
		{"1333.33", "2.5", "1366.66"},
		{"100.005", "0", "100.01"},
	}
	for _, tc := range cases {
		got := SellPrice(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.delta))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("SellPrice(%s, %s) = %s, want %s", tc.price, tc.delta, got, tc.want)
		}
	}
}

func TestBuyPriceRoundsToTwoDecimals(t *testing.T) {
	cases := []struct {
		price string
		delta string
		want  string
	}{
		{"2000.00", "1.5", "1970.00"},
		{"2000.00", "0.5", "1990.00"},
		{"1999.55", "10", "1799.60"},
	}
	for _, tc := range cases {
		got := BuyPrice(decimal.RequireFromString(tc.price), decimal.RequireFromString(tc.delta))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("BuyPrice(%s, %s) = %s, want %s", tc.price, tc.delta, got, tc.want)
		}
	}
}

func TestMirrorPriceRoundTripKeepsSpread(t *testing.T) {
	fill := decimal.RequireFromString("1970.00")
	delta := decimal.RequireFromString("1.5")

	sell := MirrorPrice(Buy, fill, delta)
	if !sell.Equal(decimal.RequireFromString("1999.55")) {
		t.Fatalf("mirror sell = %s, want 1999.55", sell)
	}
	buy := MirrorPrice(Sell, sell, delta)
	if buy.Cmp(fill) > 0 {
		t.Fatalf("round-trip buy %s ended above original fill %s", buy, fill)
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Fatalf("Opposite() mapping broken")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, st := range []OrderStatus{OrderCanceled, OrderRejected, OrderExpired} {
		if !st.Terminal() {
			t.Fatalf("%s should be terminal", st)
		}
	}
	for _, st := range []OrderStatus{OrderNew, OrderPartiallyFilled, OrderFilled} {
		if st.Terminal() {
			t.Fatalf("%s should not be terminal", st)
		}
	}
}

func TestRoundDown(t *testing.T) {
	got := RoundDown(decimal.RequireFromString("0.123456"), decimal.RequireFromString("0.0001"))
	if !got.Equal(decimal.RequireFromString("0.1234")) {
		t.Fatalf("RoundDown() = %s, want 0.1234", got)
	}
	same := RoundDown(decimal.RequireFromString("0.5"), decimal.Zero)
	if !same.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("zero step must leave value untouched, got %s", same)
	}
}
