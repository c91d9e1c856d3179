// Package fillable computes the remaining on-chain fillable taker-asset
// amount for an order (C4), the same computation the Exchange contract
// itself would derive from balances and allowances at fill time.
package fillable

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/mathutil"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

// TraderState is the on-chain snapshot a single order's fillable amount is
// computed against. All fields are read from the oracle at the moment of
// evaluation; the calculator itself performs no I/O.
type TraderState struct {
	MakerBalance      *big.Int
	MakerAllowance    *big.Int
	MakerFeeBalance   *big.Int
	MakerFeeAllowance *big.Int

	TakerBalance      *big.Int
	TakerAllowance    *big.Int
	TakerFeeBalance   *big.Int
	TakerFeeAllowance *big.Int

	OrderTakerAssetFilledAmount *big.Int
}

// Remaining computes the minimum of the applicable candidates in
// spec order, floor division throughout. The result is always >= 0.
func Remaining(order typeddata.Order, state TraderState) *big.Int {
	candidates := make([]*big.Int, 0, 5)

	if order.TakerAddress != (common.Address{}) {
		candidates = append(candidates, mathutil.Min(state.TakerBalance, state.TakerAllowance))
	}

	candidates = append(candidates, getTakerFillAmount(order, mathutil.Min(state.MakerBalance, state.MakerAllowance)))

	if !mathutil.IsZero(order.TakerFee) {
		feeCap := mathutil.Min(state.TakerFeeBalance, state.TakerFeeAllowance)
		candidates = append(candidates, mathutil.MulDiv(feeCap, order.TakerAssetAmount, order.TakerFee))
	}

	if !mathutil.IsZero(order.MakerFee) {
		feeCap := mathutil.Min(state.MakerFeeBalance, state.MakerFeeAllowance)
		candidates = append(candidates, mathutil.MulDiv(feeCap, order.TakerAssetAmount, order.MakerFee))
	}

	filled := state.OrderTakerAssetFilledAmount
	if filled == nil {
		filled = big.NewInt(0)
	}
	candidates = append(candidates, new(big.Int).Sub(order.TakerAssetAmount, filled))

	result := candidates[0]
	for _, c := range candidates[1:] {
		result = mathutil.Min(result, c)
	}
	if result.Sign() < 0 {
		return big.NewInt(0)
	}
	return result
}

// getTakerFillAmount converts a maker-asset amount into the taker-asset
// amount that would buy it at the order's own exchange rate, floored. It
// mirrors the exchange package's unexported helper of the same name.
func getTakerFillAmount(order typeddata.Order, makerAmount *big.Int) *big.Int {
	return mathutil.MulDiv(order.TakerAssetAmount, makerAmount, order.MakerAssetAmount)
}
