// Package oracle reads the on-chain trader state the fillable-amount
// calculator (C4) needs: asset balances, allowances, and how much of an
// order the Exchange contract has already recorded as filled.
package oracle

import (
	"context"

	"github.com/kaifufi/trade-coordinator/internal/fillable"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

// Snapshot reads TraderState for an order as of the current chain head.
// Implementations must be safe for concurrent use; the classifier calls
// this once per order it walks while expanding a market-sell or
// market-buy call, and concurrent requests may do so at once.
type Snapshot interface {
	Snapshot(ctx context.Context, order typeddata.Order) (fillable.TraderState, error)
}
