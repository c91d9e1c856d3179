package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kaifufi/trade-coordinator/internal/fillable"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

const exchangeFilledABIJSON = `[
	{"constant":true,"inputs":[{"name":"orderHash","type":"bytes32"}],"name":"filled","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)
var exchangeFilledABI = mustParseABI(exchangeFilledABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("oracle: failed to parse ABI: " + err.Error())
	}
	return parsed
}

// AssetProxyOracle reads balances, allowances, and filled amounts directly
// off an EVM node via ethclient, the way the teacher SDK's ContractCaller
// reads ERC20 state (chain/contract_caller.go's getERC20Balance and
// getERC20Allowance), generalized from a single known token pair to the
// arbitrary ERC20 asset data an order names.
type AssetProxyOracle struct {
	client               *ethclient.Client
	erc20ProxyAddress    common.Address
	erc20BridgeProxy     common.Address
	protocolFeeTokenAddr common.Address
}

// NewAssetProxyOracle wires an oracle against a live node. erc20ProxyAddress
// is the ERC20Proxy contract each order's asset-data allowance is granted
// to; it is the spender address passed to allowance(). protocolFeeTokenAddr
// is the ERC20 the exchange's makerFee/takerFee are always denominated in
// (the order format carries no separate fee asset data of its own); the
// zero address disables fee balance/allowance resolution, in which case
// any order with a non-zero fee is correctly reported as unfillable rather
// than silently treated as fee-free.
func NewAssetProxyOracle(client *ethclient.Client, erc20ProxyAddress, protocolFeeTokenAddr common.Address) *AssetProxyOracle {
	return &AssetProxyOracle{client: client, erc20ProxyAddress: erc20ProxyAddress, protocolFeeTokenAddr: protocolFeeTokenAddr}
}

// Snapshot reads the eight balance/allowance figures plus the order's
// on-chain filled amount, in the shape fillable.Remaining expects.
func (o *AssetProxyOracle) Snapshot(ctx context.Context, order typeddata.Order) (fillable.TraderState, error) {
	makerToken, err := decodeERC20AssetData(order.MakerAssetData)
	if err != nil {
		return fillable.TraderState{}, fmt.Errorf("oracle: maker asset data: %w", err)
	}
	takerToken, err := decodeERC20AssetData(order.TakerAssetData)
	if err != nil {
		return fillable.TraderState{}, fmt.Errorf("oracle: taker asset data: %w", err)
	}

	var (
		state fillable.TraderState
		errs  [9]error
	)
	state.MakerBalance, errs[0] = o.erc20Balance(ctx, makerToken, order.MakerAddress)
	state.MakerAllowance, errs[1] = o.erc20Allowance(ctx, makerToken, order.MakerAddress)
	state.TakerBalance, errs[2] = o.erc20Balance(ctx, takerToken, order.TakerAddress)
	state.TakerAllowance, errs[3] = o.erc20Allowance(ctx, takerToken, order.TakerAddress)

	if o.protocolFeeTokenAddr != (common.Address{}) {
		state.MakerFeeBalance, errs[5] = o.erc20Balance(ctx, o.protocolFeeTokenAddr, order.MakerAddress)
		state.MakerFeeAllowance, errs[6] = o.erc20Allowance(ctx, o.protocolFeeTokenAddr, order.MakerAddress)
		state.TakerFeeBalance, errs[7] = o.erc20Balance(ctx, o.protocolFeeTokenAddr, order.TakerAddress)
		state.TakerFeeAllowance, errs[8] = o.erc20Allowance(ctx, o.protocolFeeTokenAddr, order.TakerAddress)
	} else {
		// No fee token configured for this chain: report a zero cap rather
		// than skip the candidate, so a fee-charging order is reported
		// unfillable instead of silently treated as fee-free.
		state.MakerFeeBalance = big.NewInt(0)
		state.MakerFeeAllowance = big.NewInt(0)
		state.TakerFeeBalance = big.NewInt(0)
		state.TakerFeeAllowance = big.NewInt(0)
	}

	state.OrderTakerAssetFilledAmount, errs[4] = o.orderFilledAmount(ctx, order)

	for _, err := range errs {
		if err != nil {
			return fillable.TraderState{}, err
		}
	}
	return state, nil
}

func (o *AssetProxyOracle) erc20Balance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	result, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, err
	}
	return balance, nil
}

func (o *AssetProxyOracle) erc20Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, o.erc20ProxyAddress)
	if err != nil {
		return nil, err
	}
	result, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var allowance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, err
	}
	return allowance, nil
}

func (o *AssetProxyOracle) orderFilledAmount(ctx context.Context, order typeddata.Order) (*big.Int, error) {
	orderHash := order.Hash()
	data, err := exchangeFilledABI.Pack("filled", orderHash)
	if err != nil {
		return nil, err
	}
	exchangeAddress := order.ExchangeAddress
	result, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &exchangeAddress, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	var filledAmount *big.Int
	if err := exchangeFilledABI.UnpackIntoInterface(&filledAmount, "filled", result); err != nil {
		return nil, err
	}
	return filledAmount, nil
}

// decodeERC20AssetData extracts the token address from ERC20AssetProxy
// asset data: 4-byte proxy selector followed by an ABI-encoded address
// (right-aligned in a 32-byte word).
func decodeERC20AssetData(assetData []byte) (common.Address, error) {
	if len(assetData) < 36 {
		return common.Address{}, fmt.Errorf("oracle: asset data too short: %d bytes", len(assetData))
	}
	var addr common.Address
	copy(addr[:], assetData[16:36])
	return addr, nil
}
