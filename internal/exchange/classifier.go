package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/mathutil"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

// Method identifies which Exchange entrypoint a piece of calldata targets.
type Method int

const (
	MethodUnknown Method = iota
	MethodFillOrder
	MethodFillOrKillOrder
	MethodBatchFillOrders
	MethodBatchFillOrKillOrders
	MethodBatchFillOrdersNoThrow
	MethodMarketSellOrdersFillOrKill
	MethodMarketSellOrdersNoThrow
	MethodMarketBuyOrdersFillOrKill
	MethodMarketBuyOrdersNoThrow
	MethodCancelOrder
	MethodBatchCancelOrders
)

func (m Method) String() string {
	switch m {
	case MethodFillOrder:
		return "fillOrder"
	case MethodFillOrKillOrder:
		return "fillOrKillOrder"
	case MethodBatchFillOrders:
		return "batchFillOrders"
	case MethodBatchFillOrKillOrders:
		return "batchFillOrKillOrders"
	case MethodBatchFillOrdersNoThrow:
		return "batchFillOrdersNoThrow"
	case MethodMarketSellOrdersFillOrKill:
		return "marketSellOrdersFillOrKill"
	case MethodMarketSellOrdersNoThrow:
		return "marketSellOrdersNoThrow"
	case MethodMarketBuyOrdersFillOrKill:
		return "marketBuyOrdersFillOrKill"
	case MethodMarketBuyOrdersNoThrow:
		return "marketBuyOrdersNoThrow"
	case MethodCancelOrder:
		return "cancelOrder"
	case MethodBatchCancelOrders:
		return "batchCancelOrders"
	default:
		return "unknown"
	}
}

// IsCancel reports whether the method cancels orders rather than filling
// them.
func (m Method) IsCancel() bool {
	return m == MethodCancelOrder || m == MethodBatchCancelOrders
}

func (m Method) isMarketSell() bool {
	return m == MethodMarketSellOrdersFillOrKill || m == MethodMarketSellOrdersNoThrow
}

func (m Method) isMarketBuy() bool {
	return m == MethodMarketBuyOrdersFillOrKill || m == MethodMarketBuyOrdersNoThrow
}

var (
	// ErrUnknownSelector is returned for calldata whose 4-byte selector
	// does not match any Exchange method the coordinator understands.
	ErrUnknownSelector = errors.New("exchange: unrecognized function selector")
	// ErrCalldataTooShort is returned for calldata shorter than a
	// selector.
	ErrCalldataTooShort = errors.New("exchange: calldata shorter than 4 bytes")
)

var methodBySelector = map[[4]byte]Method{}

func init() {
	names := map[string]Method{
		"fillOrder":                   MethodFillOrder,
		"fillOrKillOrder":             MethodFillOrKillOrder,
		"batchFillOrders":             MethodBatchFillOrders,
		"batchFillOrKillOrders":       MethodBatchFillOrKillOrders,
		"batchFillOrdersNoThrow":      MethodBatchFillOrdersNoThrow,
		"marketSellOrdersFillOrKill": MethodMarketSellOrdersFillOrKill,
		"marketSellOrdersNoThrow":    MethodMarketSellOrdersNoThrow,
		"marketBuyOrdersFillOrKill":  MethodMarketBuyOrdersFillOrKill,
		"marketBuyOrdersNoThrow":     MethodMarketBuyOrdersNoThrow,
		"cancelOrder":                MethodCancelOrder,
		"batchCancelOrders":          MethodBatchCancelOrders,
	}
	parsed := ExchangeABI()
	for name, m := range names {
		method, ok := parsed.Methods[name]
		if !ok {
			panic("exchange: ABI missing method " + name)
		}
		var sel [4]byte
		copy(sel[:], method.ID)
		methodBySelector[sel] = m
	}
}

// RemainingFillableLookup is C4 as seen by the classifier: given an order,
// it returns the taker-asset amount still fillable against on-chain state.
type RemainingFillableLookup interface {
	Remaining(ctx context.Context, order typeddata.Order) (*big.Int, error)
}

// Classified is the normalized result of decoding a fill or cancel call:
// the order set it touches and, for fills, the taker-asset amount the
// coordinator should treat each order as being asked to fill.
type Classified struct {
	Method      Method
	Orders      []typeddata.Order
	FillAmounts []*big.Int // taker-asset units; empty for cancels
	Signatures  [][]byte
}

// Classify decodes raw Exchange calldata into a normalized (method, orders,
// fillAmounts) triple, per the classifier's method table. Market-sell and
// market-buy calls are expanded into equivalent per-order taker fill
// amounts using RemainingFillableLookup, mirroring what the Exchange
// contract itself does when walking the order array greedily.
func Classify(ctx context.Context, chainID *big.Int, exchangeAddress common.Address, calldata []byte, fillable RemainingFillableLookup) (Classified, error) {
	if len(calldata) < 4 {
		return Classified{}, ErrCalldataTooShort
	}
	var sel [4]byte
	copy(sel[:], calldata[:4])
	method, ok := methodBySelector[sel]
	if !ok {
		return Classified{}, ErrUnknownSelector
	}

	exchangeABI := ExchangeABI()
	abiMethod, err := exchangeABI.MethodById(calldata[:4])
	if err != nil {
		return Classified{}, err
	}
	values, err := abiMethod.Inputs.Unpack(calldata[4:])
	if err != nil {
		return Classified{}, fmt.Errorf("exchange: unpacking %s calldata: %w", method, err)
	}

	switch method {
	case MethodFillOrder, MethodFillOrKillOrder:
		order, err := decorateOrder(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		takerFillAmount, _ := values[1].(*big.Int)
		sig, _ := values[2].([]byte)
		return Classified{
			Method:      method,
			Orders:      []typeddata.Order{order},
			FillAmounts: []*big.Int{takerFillAmount},
			Signatures:  [][]byte{sig},
		}, nil

	case MethodBatchFillOrders, MethodBatchFillOrKillOrders, MethodBatchFillOrdersNoThrow:
		orders, err := decorateOrders(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		amounts, _ := values[1].([]*big.Int)
		sigs, _ := values[2].([][]byte)
		return Classified{Method: method, Orders: orders, FillAmounts: amounts, Signatures: sigs}, nil

	case MethodMarketSellOrdersFillOrKill, MethodMarketSellOrdersNoThrow:
		orders, err := decorateOrders(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		takerAssetFillAmount, _ := values[1].(*big.Int)
		sigs, _ := values[2].([][]byte)
		amounts, err := deriveMarketSellFillAmounts(ctx, orders, takerAssetFillAmount, fillable)
		if err != nil {
			return Classified{}, err
		}
		return Classified{Method: method, Orders: orders, FillAmounts: amounts, Signatures: sigs}, nil

	case MethodMarketBuyOrdersFillOrKill, MethodMarketBuyOrdersNoThrow:
		orders, err := decorateOrders(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		makerAssetFillAmount, _ := values[1].(*big.Int)
		sigs, _ := values[2].([][]byte)
		amounts, err := deriveMarketBuyFillAmounts(ctx, orders, makerAssetFillAmount, fillable)
		if err != nil {
			return Classified{}, err
		}
		return Classified{Method: method, Orders: orders, FillAmounts: amounts, Signatures: sigs}, nil

	case MethodCancelOrder:
		order, err := decorateOrder(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		return Classified{Method: method, Orders: []typeddata.Order{order}}, nil

	case MethodBatchCancelOrders:
		orders, err := decorateOrders(values[0], chainID, exchangeAddress)
		if err != nil {
			return Classified{}, err
		}
		return Classified{Method: method, Orders: orders}, nil

	default:
		return Classified{}, ErrUnknownSelector
	}
}

func decorateOrder(v interface{}, chainID *big.Int, exchangeAddress common.Address) (order typeddata.Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exchange: decoding order tuple: %v", r)
		}
	}()
	raw, ok := abi.ConvertType(v, new(rawOrder)).(*rawOrder)
	if !ok {
		return typeddata.Order{}, fmt.Errorf("exchange: decoding order tuple: unexpected type %T", v)
	}
	return toOrder(*raw, chainID, exchangeAddress), nil
}

func decorateOrders(v interface{}, chainID *big.Int, exchangeAddress common.Address) (orders []typeddata.Order, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exchange: decoding order array: %v", r)
		}
	}()
	raws, ok := abi.ConvertType(v, new([]rawOrder)).(*[]rawOrder)
	if !ok {
		return nil, fmt.Errorf("exchange: decoding order array: unexpected type %T", v)
	}
	orders = make([]typeddata.Order, len(*raws))
	for i, raw := range *raws {
		orders[i] = toOrder(raw, chainID, exchangeAddress)
	}
	return orders, nil
}

func toOrder(raw rawOrder, chainID *big.Int, exchangeAddress common.Address) typeddata.Order {
	return typeddata.Order{
		MakerAddress:          raw.MakerAddress,
		TakerAddress:          raw.TakerAddress,
		FeeRecipientAddress:   raw.FeeRecipientAddress,
		MakerAssetAmount:      raw.MakerAssetAmount,
		TakerAssetAmount:      raw.TakerAssetAmount,
		MakerFee:              raw.MakerFee,
		TakerFee:              raw.TakerFee,
		ExpirationTimeSeconds: raw.ExpirationTimeSeconds,
		Salt:                  raw.Salt,
		ChainID:               chainID,
		ExchangeAddress:       exchangeAddress,
		MakerAssetData:        raw.MakerAssetData,
		TakerAssetData:        raw.TakerAssetData,
	}
}

// deriveMarketSellFillAmounts walks orders in the order the taker supplied
// them (the Exchange contract does the same), greedily assigning each order
// the smaller of its remaining fillable taker amount and what's left of
// takerAssetFillAmount to spend.
func deriveMarketSellFillAmounts(ctx context.Context, orders []typeddata.Order, takerAssetFillAmount *big.Int, fillable RemainingFillableLookup) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(orders))
	remaining := new(big.Int).Set(takerAssetFillAmount)
	for i, order := range orders {
		if remaining.Sign() <= 0 {
			amounts[i] = big.NewInt(0)
			continue
		}
		remainingFillable, err := fillable.Remaining(ctx, order)
		if err != nil {
			return nil, err
		}
		take := mathutil.Min(remainingFillable, remaining)
		amounts[i] = take
		remaining = new(big.Int).Sub(remaining, take)
	}
	return amounts, nil
}

// deriveMarketBuyFillAmounts is the mirror of deriveMarketSellFillAmounts:
// it walks orders spending against makerAssetFillAmount (an amount
// denominated in the asset the taker is buying). Per order it computes the
// taker-asset amount t_i that would buy the entire remaining M at the
// order's own rate, caps that at the order's remaining fillable amount,
// then carries the maker-asset value of whatever of t_i went unspent
// forward into the next order's M.
func deriveMarketBuyFillAmounts(ctx context.Context, orders []typeddata.Order, makerAssetFillAmount *big.Int, fillable RemainingFillableLookup) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(orders))
	remaining := new(big.Int).Set(makerAssetFillAmount)
	for i, order := range orders {
		if remaining.Sign() <= 0 {
			amounts[i] = big.NewInt(0)
			continue
		}
		remainingFillable, err := fillable.Remaining(ctx, order)
		if err != nil {
			return nil, err
		}
		takerFillAmount := getTakerFillAmount(order, remaining)
		fillAmount := mathutil.Min(takerFillAmount, remainingFillable)
		amounts[i] = fillAmount
		remaining = getMakerFillAmount(order, new(big.Int).Sub(takerFillAmount, fillAmount))
	}
	return amounts, nil
}

// getTakerFillAmount converts a desired maker-asset fill amount into the
// taker-asset amount that produces it, using the order's own exchange
// rate: takerAssetAmount * makerFillAmount / makerAssetAmount, floored.
func getTakerFillAmount(order typeddata.Order, makerFillAmount *big.Int) *big.Int {
	return mathutil.MulDiv(order.TakerAssetAmount, makerFillAmount, order.MakerAssetAmount)
}

// getMakerFillAmount converts a taker-asset fill amount into the maker
// asset it buys: makerAssetAmount * takerFillAmount / takerAssetAmount,
// floored.
func getMakerFillAmount(order typeddata.Order, takerFillAmount *big.Int) *big.Int {
	return mathutil.MulDiv(order.MakerAssetAmount, takerFillAmount, order.TakerAssetAmount)
}
