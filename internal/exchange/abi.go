// Package exchange decodes and classifies calldata aimed at the public
// exchange contract (C3), adapting the teacher SDK's ABI-parsing pattern
// (chain/types.go's GetERC20ABI/GetConditionalTokensABI) from a handful of
// ERC20 calls to the full 0x-style Exchange method surface.
package exchange

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const orderTupleComponents = `[
	{"name":"makerAddress","type":"address"},
	{"name":"takerAddress","type":"address"},
	{"name":"feeRecipientAddress","type":"address"},
	{"name":"senderAddress","type":"address"},
	{"name":"makerAssetAmount","type":"uint256"},
	{"name":"takerAssetAmount","type":"uint256"},
	{"name":"makerFee","type":"uint256"},
	{"name":"takerFee","type":"uint256"},
	{"name":"expirationTimeSeconds","type":"uint256"},
	{"name":"salt","type":"uint256"},
	{"name":"makerAssetData","type":"bytes"},
	{"name":"takerAssetData","type":"bytes"},
	{"name":"makerFeeAssetData","type":"bytes"},
	{"name":"takerFeeAssetData","type":"bytes"}
]`

// exchangeABIJSON declares the inputs of every Exchange method the
// classifier recognizes. Outputs are omitted; the classifier never decodes
// return data.
var exchangeABIJSON = `[
	{"type":"function","name":"fillOrder","inputs":[
		{"name":"order","type":"tuple","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmount","type":"uint256"},
		{"name":"signature","type":"bytes"}
	]},
	{"type":"function","name":"fillOrKillOrder","inputs":[
		{"name":"order","type":"tuple","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmount","type":"uint256"},
		{"name":"signature","type":"bytes"}
	]},
	{"type":"function","name":"batchFillOrders","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmounts","type":"uint256[]"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"batchFillOrKillOrders","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmounts","type":"uint256[]"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"batchFillOrdersNoThrow","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmounts","type":"uint256[]"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"marketSellOrdersFillOrKill","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmount","type":"uint256"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"marketSellOrdersNoThrow","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"takerAssetFillAmount","type":"uint256"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"marketBuyOrdersFillOrKill","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"makerAssetFillAmount","type":"uint256"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"marketBuyOrdersNoThrow","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `},
		{"name":"makerAssetFillAmount","type":"uint256"},
		{"name":"signatures","type":"bytes[]"}
	]},
	{"type":"function","name":"cancelOrder","inputs":[
		{"name":"order","type":"tuple","components":` + orderTupleComponents + `}
	]},
	{"type":"function","name":"batchCancelOrders","inputs":[
		{"name":"orders","type":"tuple[]","components":` + orderTupleComponents + `}
	]}
]`

// ExchangeABI returns the parsed ABI covering the Exchange methods the
// classifier understands. Any other selector is InvalidFunctionCall.
func ExchangeABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		panic("exchange: failed to parse Exchange ABI: " + err.Error())
	}
	return parsed
}

// rawOrder mirrors the Exchange ABI's Order tuple layout; field names must
// match the tuple's component names once capitalized, so that
// abi.ConvertType can convert the anonymous struct Unpack produces into
// this named one.
type rawOrder struct {
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
