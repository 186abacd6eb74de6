package core

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// pricePrecision is the quote precision of the instruments this bot trades.
const pricePrecision = 2

// SellPrice computes the resting price of the SELL mirror for a BUY order
// filled at price, shifted up by the rung's delta percentage and rounded
// half-up to the price precision.
func SellPrice(price, delta decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Add(delta)).Div(hundred).Round(pricePrecision)
}

// BuyPrice computes the resting price of the BUY mirror for a SELL order
// filled at price, shifted down by the rung's delta percentage. It also
// prices the initial ladder rungs below the current market price.
func BuyPrice(price, delta decimal.Decimal) decimal.Decimal {
	return price.Mul(hundred.Sub(delta)).Div(hundred).Round(pricePrecision)
}

// MirrorPrice derives the mirror's resting price from the side of the filled
// order.
func MirrorPrice(filledSide Side, fillPrice, delta decimal.Decimal) decimal.Decimal {
	if filledSide == Buy {
		return SellPrice(fillPrice, delta)
	}
	return BuyPrice(fillPrice, delta)
}

// RoundDown floors value to a multiple of step. A zero step leaves value
// untouched.
func RoundDown(value, step decimal.Decimal) decimal.Decimal {
	if step.Cmp(decimal.Zero) <= 0 {
		return value
	}
	return value.Div(step).Floor().Mul(step)
}
