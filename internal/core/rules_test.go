package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNormalizeOrderRoundsPriceAndQty(t *testing.T) {
	order := Order{
		Symbol: "ETHUSDT",
		Side:   Buy,
		Type:   Limit,
		Price:  decimal.RequireFromString("1970.007"),
		Qty:    decimal.RequireFromString("0.123456"),
	}
	rules := Rules{
		MinQty:      decimal.RequireFromString("0.0001"),
		MinNotional: decimal.RequireFromString("15"),
		PriceTick:   decimal.RequireFromString("0.01"),
		QtyStep:     decimal.RequireFromString("0.0001"),
	}

	got, err := NormalizeOrder(order, rules)
	if err != nil {
		t.Fatalf("NormalizeOrder() error = %v", err)
	}
	if !got.Price.Equal(decimal.RequireFromString("1970.00")) {
		t.Fatalf("unexpected rounded price: %s", got.Price)
	}
	if !got.Qty.Equal(decimal.RequireFromString("0.1234")) {
		t.Fatalf("unexpected rounded qty: %s", got.Qty)
	}
}

func TestNormalizeOrderBelowMinQty(t *testing.T) {
	order := Order{
		Symbol: "ETHUSDT",
		Side:   Buy,
		Type:   Limit,
		Price:  decimal.RequireFromString("2000"),
		Qty:    decimal.RequireFromString("0.00005"),
	}
	rules := Rules{MinQty: decimal.RequireFromString("0.0001")}

	_, err := NormalizeOrder(order, rules)
	if !errors.Is(err, ErrBelowMinQty) {
		t.Fatalf("NormalizeOrder() error = %v, want %v", err, ErrBelowMinQty)
	}
}

func TestNormalizeOrderBelowMinNotional(t *testing.T) {
	order := Order{
		Symbol: "ETHUSDT",
		Side:   Buy,
		Type:   Limit,
		Price:  decimal.RequireFromString("2000"),
		Qty:    decimal.RequireFromString("0.005"),
	}
	rules := Rules{MinNotional: decimal.RequireFromString("15")}

	_, err := NormalizeOrder(order, rules)
	if !errors.Is(err, ErrBelowMinNotional) {
		t.Fatalf("NormalizeOrder() error = %v, want %v", err, ErrBelowMinNotional)
	}
}

func TestNormalizeOrderRejectsZeroQty(t *testing.T) {
	order := Order{
		Symbol: "ETHUSDT",
		Side:   Sell,
		Type:   Limit,
		Price:  decimal.RequireFromString("2000"),
		Qty:    decimal.Zero,
	}
	if _, err := NormalizeOrder(order, Rules{}); !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("NormalizeOrder() error = %v, want %v", err, ErrInvalidOrder)
	}
}
