package exchange

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

var testExchangeAddress = common.HexToAddress("0x9999999999999999999999999999999999999999")
var testChainID = big.NewInt(1)

type rawOrderTuple = struct {
	MakerAddress          common.Address
	TakerAddress          common.Address
	FeeRecipientAddress   common.Address
	SenderAddress         common.Address
	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerFee              *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
	MakerAssetData        []byte
	TakerAssetData        []byte
	MakerFeeAssetData     []byte
	TakerFeeAssetData     []byte
}

func packOrderTuple(makerAmount, takerAmount int64) rawOrderTuple {
	return rawOrderTuple{
		MakerAddress:          common.HexToAddress("0x1111111111111111111111111111111111111111"),
		TakerAddress:          common.Address{},
		FeeRecipientAddress:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		SenderAddress:         common.Address{},
		MakerAssetAmount:      big.NewInt(makerAmount),
		TakerAssetAmount:      big.NewInt(takerAmount),
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(4000000000),
		Salt:                  big.NewInt(1),
		MakerAssetData:        []byte{0xaa},
		TakerAssetData:        []byte{0xbb},
		MakerFeeAssetData:     []byte{},
		TakerFeeAssetData:     []byte{},
	}
}

func TestClassifyFillOrder(t *testing.T) {
	exchangeABI := ExchangeABI()
	method := exchangeABI.Methods["fillOrder"]
	packedArgs, err := method.Inputs.Pack(packOrderTuple(1000, 100), big.NewInt(50), []byte{0x01, 0x02})
	require.NoError(t, err)
	calldata := append(method.ID, packedArgs...)

	result, err := Classify(context.Background(), testChainID, testExchangeAddress, calldata, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodFillOrder, result.Method)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, big.NewInt(1000), result.Orders[0].MakerAssetAmount)
	assert.Equal(t, testChainID, result.Orders[0].ChainID)
	assert.Equal(t, testExchangeAddress, result.Orders[0].ExchangeAddress)
	require.Len(t, result.FillAmounts, 1)
	assert.Equal(t, big.NewInt(50), result.FillAmounts[0])
}

func TestClassifyCancelOrder(t *testing.T) {
	exchangeABI := ExchangeABI()
	method := exchangeABI.Methods["cancelOrder"]
	packedArgs, err := method.Inputs.Pack(packOrderTuple(1000, 100))
	require.NoError(t, err)
	calldata := append(method.ID, packedArgs...)

	result, err := Classify(context.Background(), testChainID, testExchangeAddress, calldata, nil)
	require.NoError(t, err)
	assert.Equal(t, MethodCancelOrder, result.Method)
	assert.True(t, result.Method.IsCancel())
	require.Len(t, result.Orders, 1)
}

func TestClassifyUnknownSelector(t *testing.T) {
	_, err := Classify(context.Background(), testChainID, testExchangeAddress, []byte{0xde, 0xad, 0xbe, 0xef}, nil)
	assert.ErrorIs(t, err, ErrUnknownSelector)
}

func TestClassifyCalldataTooShort(t *testing.T) {
	_, err := Classify(context.Background(), testChainID, testExchangeAddress, []byte{0x01, 0x02}, nil)
	assert.ErrorIs(t, err, ErrCalldataTooShort)
}

func TestGetTakerAndMakerFillAmountFloor(t *testing.T) {
	order := typeddata.Order{MakerAssetAmount: big.NewInt(1000), TakerAssetAmount: big.NewInt(300)}

	takerFill := getTakerFillAmount(order, big.NewInt(999))
	assert.Equal(t, big.NewInt(299), takerFill) // floor(300*999/1000) = 299

	makerFill := getMakerFillAmount(order, big.NewInt(299))
	assert.Equal(t, big.NewInt(996), makerFill) // floor(1000*299/300) = 996
}

type fakeFillable struct {
	remaining map[common.Hash]*big.Int
}

func (f fakeFillable) Remaining(ctx context.Context, order typeddata.Order) (*big.Int, error) {
	if amount, ok := f.remaining[order.Hash()]; ok {
		return amount, nil
	}
	return order.TakerAssetAmount, nil
}

func TestDeriveMarketSellFillAmountsSpendsGreedily(t *testing.T) {
	orders := []typeddata.Order{
		{MakerAssetAmount: big.NewInt(1000), TakerAssetAmount: big.NewInt(100), MakerFee: big.NewInt(0), TakerFee: big.NewInt(0), ExpirationTimeSeconds: big.NewInt(4000000000), ChainID: testChainID, ExchangeAddress: testExchangeAddress, Salt: big.NewInt(1)},
		{MakerAssetAmount: big.NewInt(1000), TakerAssetAmount: big.NewInt(100), MakerFee: big.NewInt(0), TakerFee: big.NewInt(0), ExpirationTimeSeconds: big.NewInt(4000000000), ChainID: testChainID, ExchangeAddress: testExchangeAddress, Salt: big.NewInt(2)},
	}
	amounts, err := deriveMarketSellFillAmounts(context.Background(), orders, big.NewInt(150), fakeFillable{})
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, big.NewInt(100), amounts[0])
	assert.Equal(t, big.NewInt(50), amounts[1])
}

// TestDeriveMarketBuyFillAmountsNonExactRate exercises a non-exact exchange
// rate (makerAssetAmount=3, takerAssetAmount=7) where computing t_i from the
// current M before applying the order's cap matters: t_i=floor(7*10/3)=23,
// fill_i=min(23,24)=23. Computing a maker-asset cap first and comparing
// that against M instead (as if capAtTakerCap=floor(3*24/7)... using the
// wrong operand order) would wrongly fill the full cap of 24.
func TestDeriveMarketBuyFillAmountsNonExactRate(t *testing.T) {
	orders := []typeddata.Order{
		{MakerAssetAmount: big.NewInt(3), TakerAssetAmount: big.NewInt(7), MakerFee: big.NewInt(0), TakerFee: big.NewInt(0), ExpirationTimeSeconds: big.NewInt(4000000000), ChainID: testChainID, ExchangeAddress: testExchangeAddress, Salt: big.NewInt(1)},
	}
	fillable := fakeFillable{remaining: map[common.Hash]*big.Int{orders[0].Hash(): big.NewInt(24)}}

	amounts, err := deriveMarketBuyFillAmounts(context.Background(), orders, big.NewInt(10), fillable)
	require.NoError(t, err)
	require.Len(t, amounts, 1)
	assert.Equal(t, big.NewInt(23), amounts[0])
}

// TestDeriveMarketBuyFillAmountsCapsAndCarriesRemainder verifies the
// cap-bound branch carries the maker-asset value of the unfilled taker
// amount forward into the next order's M, rather than dropping it.
func TestDeriveMarketBuyFillAmountsCapsAndCarriesRemainder(t *testing.T) {
	orders := []typeddata.Order{
		{MakerAssetAmount: big.NewInt(1000), TakerAssetAmount: big.NewInt(100), MakerFee: big.NewInt(0), TakerFee: big.NewInt(0), ExpirationTimeSeconds: big.NewInt(4000000000), ChainID: testChainID, ExchangeAddress: testExchangeAddress, Salt: big.NewInt(1)},
		{MakerAssetAmount: big.NewInt(1000), TakerAssetAmount: big.NewInt(100), MakerFee: big.NewInt(0), TakerFee: big.NewInt(0), ExpirationTimeSeconds: big.NewInt(4000000000), ChainID: testChainID, ExchangeAddress: testExchangeAddress, Salt: big.NewInt(2)},
	}
	fillable := fakeFillable{remaining: map[common.Hash]*big.Int{
		orders[0].Hash(): big.NewInt(30), // caps the first order well below what M=500 would otherwise buy
	}}

	amounts, err := deriveMarketBuyFillAmounts(context.Background(), orders, big.NewInt(500), fillable)
	require.NoError(t, err)
	require.Len(t, amounts, 2)
	assert.Equal(t, big.NewInt(30), amounts[0])
	// t_0 = floor(100*500/1000) = 50, fill_0 = min(50,30) = 30, leftover
	// taker amount 20 carries forward as M = getMakerFillAmount(order, 20) =
	// 200, then t_1 = floor(100*200/1000) = 20, fill_1 = min(20,100) = 20.
	assert.Equal(t, big.NewInt(20), amounts[1])
}
