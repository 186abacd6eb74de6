package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

type OrderType string

type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

const (
	Limit OrderType = "LIMIT"
)

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Order is one trading intent. ClientID is assigned locally and is unique per
// submission attempt; ID is assigned by the exchange once accepted. Delta is
// the percentage spread inherited from the ladder rung that produced the
// order and is copied unchanged onto every mirror derived from it.
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Delta     decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
}

// Opposite returns the mirror side for a filled order.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Terminal reports whether the status ends the order's lifecycle without a
// fill. FILLED ends the lifecycle too but triggers mirroring, so it is kept
// apart.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

type Rules struct {
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	PriceTick   decimal.Decimal
	QtyStep     decimal.Decimal
}
