package fillable

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

func baseOrder() typeddata.Order {
	return typeddata.Order{
		MakerAddress:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TakerAddress:          common.Address{},
		MakerAssetAmount:      big.NewInt(1000),
		TakerAssetAmount:      big.NewInt(500),
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(4000000000),
	}
}

func TestRemainingBoundedByUnfilledPortion(t *testing.T) {
	order := baseOrder()
	state := TraderState{
		MakerBalance:                big.NewInt(1000000),
		MakerAllowance:              big.NewInt(1000000),
		TakerBalance:                big.NewInt(0),
		TakerAllowance:              big.NewInt(0),
		MakerFeeBalance:             big.NewInt(0),
		MakerFeeAllowance:           big.NewInt(0),
		TakerFeeBalance:             big.NewInt(0),
		TakerFeeAllowance:           big.NewInt(0),
		OrderTakerAssetFilledAmount: big.NewInt(200),
	}
	assert.Equal(t, big.NewInt(300), Remaining(order, state))
}

func TestRemainingBoundedByMakerBalance(t *testing.T) {
	order := baseOrder()
	state := TraderState{
		MakerBalance:                big.NewInt(200), // maker only has 200 of a 1000-unit order
		MakerAllowance:              big.NewInt(1000000),
		TakerBalance:                big.NewInt(0),
		TakerAllowance:              big.NewInt(0),
		MakerFeeBalance:             big.NewInt(0),
		MakerFeeAllowance:           big.NewInt(0),
		TakerFeeBalance:             big.NewInt(0),
		TakerFeeAllowance:           big.NewInt(0),
		OrderTakerAssetFilledAmount: big.NewInt(0),
	}
	// getTakerFillAmount(order, 200) = floor(500*200/1000) = 100
	assert.Equal(t, big.NewInt(100), Remaining(order, state))
}

func TestRemainingIgnoresTakerCandidateWhenOpenOrder(t *testing.T) {
	order := baseOrder() // TakerAddress is the zero address: open order
	state := TraderState{
		MakerBalance:                big.NewInt(1000000),
		MakerAllowance:              big.NewInt(1000000),
		TakerBalance:                big.NewInt(0), // would starve the order if candidate 1 applied
		TakerAllowance:              big.NewInt(0),
		MakerFeeBalance:             big.NewInt(0),
		MakerFeeAllowance:           big.NewInt(0),
		TakerFeeBalance:             big.NewInt(0),
		TakerFeeAllowance:           big.NewInt(0),
		OrderTakerAssetFilledAmount: big.NewInt(0),
	}
	assert.Equal(t, big.NewInt(500), Remaining(order, state))
}

func TestRemainingAppliesTakerFeeCandidate(t *testing.T) {
	order := baseOrder()
	order.TakerFee = big.NewInt(10)
	state := TraderState{
		MakerBalance:                big.NewInt(1000000),
		MakerAllowance:              big.NewInt(1000000),
		TakerBalance:                big.NewInt(0),
		TakerAllowance:              big.NewInt(0),
		MakerFeeBalance:             big.NewInt(0),
		MakerFeeAllowance:           big.NewInt(0),
		TakerFeeBalance:             big.NewInt(2), // taker can only afford 2 fee units
		TakerFeeAllowance:           big.NewInt(2),
		OrderTakerAssetFilledAmount: big.NewInt(0),
	}
	// floor(2*500/10) = 100
	assert.Equal(t, big.NewInt(100), Remaining(order, state))
}

func TestRemainingNeverNegative(t *testing.T) {
	order := baseOrder()
	state := TraderState{
		MakerBalance:                big.NewInt(1000000),
		MakerAllowance:              big.NewInt(1000000),
		TakerBalance:                big.NewInt(0),
		TakerAllowance:              big.NewInt(0),
		MakerFeeBalance:             big.NewInt(0),
		MakerFeeAllowance:           big.NewInt(0),
		TakerFeeBalance:             big.NewInt(0),
		TakerFeeAllowance:           big.NewInt(0),
		OrderTakerAssetFilledAmount: big.NewInt(600), // over-filled beyond takerAssetAmount
	}
	assert.Equal(t, big.NewInt(0), Remaining(order, state))
}
