package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"ladderbot/internal/core"
)

// Gateway is the narrow contract the reconciliation engine consumes. Reads
// (price, status, balance) are idempotent and may be retried; PlaceOrder is
// never retried with the same client id.
type Gateway interface {
	Name() string
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, order core.Order) (core.Order, error)
	QueryOrder(ctx context.Context, symbol, orderID, clientID string) (core.Order, error)
	FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}
