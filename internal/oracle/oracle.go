// Package oracle answers "what is the current price of tokenOut per tokenIn".
package oracle

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/amirphl/amm-limit-orders/internal/types"
)

// Oracle returns the current tradable price, in whole tokenOut per whole
// tokenIn. It is read-only and never retries internally.
type Oracle interface {
	CurrentPrice(ctx context.Context, tokenIn, tokenOut types.TokenRef) (decimal.Decimal, error)
}
