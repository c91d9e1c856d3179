package coordinator

import (
	"context"
	"crypto/ecdsa"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaifufi/trade-coordinator/internal/broadcaster"
	"github.com/kaifufi/trade-coordinator/internal/exchange"
	"github.com/kaifufi/trade-coordinator/internal/fillable"
	"github.com/kaifufi/trade-coordinator/internal/repository/inmemory"
	"github.com/kaifufi/trade-coordinator/internal/signerset"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

var testExchangeAddress = common.HexToAddress("0x9999999999999999999999999999999999999999")
var testChainID = big.NewInt(1)

// rawOrderTuple mirrors the Exchange ABI's Order tuple layout, matching
// exchange.ExchangeABI()'s component order exactly.
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

func toTuple(order typeddata.Order) rawOrderTuple {
	return rawOrderTuple{
		MakerAddress:          order.MakerAddress,
		TakerAddress:          order.TakerAddress,
		FeeRecipientAddress:   order.FeeRecipientAddress,
		SenderAddress:         common.Address{},
		MakerAssetAmount:      order.MakerAssetAmount,
		TakerAssetAmount:      order.TakerAssetAmount,
		MakerFee:              order.MakerFee,
		TakerFee:              order.TakerFee,
		ExpirationTimeSeconds: order.ExpirationTimeSeconds,
		Salt:                  order.Salt,
		MakerAssetData:        order.MakerAssetData,
		TakerAssetData:        order.TakerAssetData,
		MakerFeeAssetData:     []byte{},
		TakerFeeAssetData:     []byte{},
	}
}

type ampleOracle struct{}

func (ampleOracle) Snapshot(ctx context.Context, order typeddata.Order) (fillable.TraderState, error) {
	huge := big.NewInt(1_000_000_000)
	return fillable.TraderState{
		MakerBalance: huge, MakerAllowance: huge,
		TakerBalance: huge, TakerAllowance: huge,
		MakerFeeBalance: huge, MakerFeeAllowance: huge,
		TakerFeeBalance: huge, TakerFeeAllowance: huge,
		OrderTakerAssetFilledAmount: big.NewInt(0),
	}, nil
}

type recordingBus struct {
	events []broadcaster.Event
}

func (b *recordingBus) Publish(event broadcaster.Event) { b.events = append(b.events, event) }

// cancellingBus soft-cancels orderHash when FillRequestReceived is
// published, i.e. after VALIDATED₁ and before the selective delay ends.
type cancellingBus struct {
	repo      *inmemory.Repository
	orderHash common.Hash
}

func (b *cancellingBus) Publish(event broadcaster.Event) {
	if event.Type == broadcaster.FillRequestReceived {
		_, _ = b.repo.SoftCancel(context.Background(), []common.Hash{b.orderHash})
	}
}

func newTestChain() *Chain {
	return &Chain{
		ChainID:                    testChainID,
		ExchangeAddress:            testExchangeAddress,
		CoordinatorContractAddress: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		CoordinatorDomainVersion:   "1.0.0",
		ApprovalExpirationDuration: time.Hour,
	}
}

func discardLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEngine(t *testing.T, feeRecipientKeys ...string) (*Engine, *inmemory.Repository) {
	t.Helper()
	repo := inmemory.New()
	signers, err := signerset.New(feeRecipientKeys)
	require.NoError(t, err)
	engine := &Engine{
		Repo:    repo,
		Signers: signers,
		Bus:     &recordingBus{},
		Oracle:  ampleOracle{},
		Log:     discardLogger(),
	}
	return engine, repo
}

func mustKey(t *testing.T, hexKey string) *ecdsa.PrivateKey {
	t.Helper()
	priv, err := crypto.HexToECDSA(hexKey)
	require.NoError(t, err)
	return priv
}

func signOrder(t *testing.T, key string, order *typeddata.Order) {
	t.Helper()
	priv := mustKey(t, key)
	order.MakerAddress = crypto.PubkeyToAddress(priv.PublicKey)
	digest := order.Hash()
	sig, err := crypto.Sign(digest.Bytes(), priv)
	require.NoError(t, err)
	sig[64] += 27
	order.MakerSignature = sig
}

func fillOrderCalldata(t *testing.T, order typeddata.Order, takerFillAmount int64) []byte {
	t.Helper()
	exchangeABI := exchange.ExchangeABI()
	method := exchangeABI.Methods["fillOrder"]
	packed, err := method.Inputs.Pack(toTuple(order), big.NewInt(takerFillAmount), order.MakerSignature)
	require.NoError(t, err)
	return append(append([]byte{}, method.ID...), packed...)
}

func cancelOrderCalldata(t *testing.T, order typeddata.Order) []byte {
	t.Helper()
	exchangeABI := exchange.ExchangeABI()
	method := exchangeABI.Methods["cancelOrder"]
	packed, err := method.Inputs.Pack(toTuple(order))
	require.NoError(t, err)
	return append(append([]byte{}, method.ID...), packed...)
}

func newBaseOrder(chain *Chain, feeRecipientKey string) typeddata.Order {
	feeAddr := crypto.PubkeyToAddress(mustKeyNoT(feeRecipientKey).PublicKey)
	return typeddata.Order{
		TakerAddress:          common.Address{},
		FeeRecipientAddress:   feeAddr,
		MakerAssetAmount:      big.NewInt(1000),
		TakerAssetAmount:      big.NewInt(100),
		MakerFee:              big.NewInt(0),
		TakerFee:              big.NewInt(0),
		ExpirationTimeSeconds: big.NewInt(4000000000),
		Salt:                  big.NewInt(1),
		ChainID:               chain.ChainID,
		ExchangeAddress:       chain.ExchangeAddress,
		MakerAssetData:        []byte{0xaa},
		TakerAssetData:        []byte{0xbb},
	}
}

func mustKeyNoT(hexKey string) *ecdsa.PrivateKey {
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		panic(err)
	}
	return priv
}

// signedRequest builds a Request for calldata, signed by takerKey as
// signerAddress, under chain's exchange domain.
func signedRequest(t *testing.T, chain *Chain, takerKey string, calldata []byte, salt int64) Request {
	t.Helper()
	priv := mustKey(t, takerKey)
	signer := crypto.PubkeyToAddress(priv.PublicKey)
	// Ten minutes out: well inside the test chain's one-hour approval
	// lifetime, so the expiration bound check passes.
	expiration := big.NewInt(time.Now().Unix() + 600)

	tx := typeddata.SignedMetaTransaction{
		SignerAddress:         signer,
		Data:                  calldata,
		Salt:                  big.NewInt(salt),
		ExpirationTimeSeconds: expiration,
		GasPrice:              big.NewInt(0),
		Domain:                chain.ExchangeDomain(),
	}
	digest := tx.Hash()
	sig, err := crypto.Sign(digest.Bytes(), priv)
	require.NoError(t, err)
	sig[64] += 27

	return Request{
		SignerAddress:         signer,
		Data:                  calldata,
		Salt:                  big.NewInt(salt),
		ExpirationTimeSeconds: expiration,
		GasPrice:              big.NewInt(0),
		Signature:             sig,
		TxOrigin:              signer,
	}
}

// recoverApprovalSigner recovers the fee-recipient address from a 66-byte
// v‖r‖s‖0x05 CoordinatorApproval signature.
func recoverApprovalSigner(t *testing.T, digest common.Hash, wire []byte) common.Address {
	t.Helper()
	require.Len(t, wire, 66)
	require.Equal(t, byte(0x05), wire[65])
	sig := make([]byte, 65)
	copy(sig[:64], wire[1:65])
	sig[64] = wire[0]
	addr, err := typeddata.RecoverSigner(digest, sig)
	require.NoError(t, err)
	return addr
}

const takerKeyHex = "00000000000000000000000000000000000000000000000000000000000003e8"
const feeRecipientKeyHex = "00000000000000000000000000000000000000000000000000000000000003e9"
const otherFeeRecipientKeyHex = "00000000000000000000000000000000000000000000000000000000000003ea"
const otherMakerKeyHex = "00000000000000000000000000000000000000000000000000000000000003eb"

func TestHandleHappyFill(t *testing.T) {
	chain := newTestChain()
	engine, repo := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order)
	calldata := fillOrderCalldata(t, order, 40)
	req := signedRequest(t, chain, takerKeyHex, calldata, 1)

	approval, cancel, err := engine.Handle(context.Background(), chain, req)
	require.NoError(t, err)
	require.Nil(t, cancel)
	require.NotNil(t, approval)

	assert.Len(t, approval.ApprovedOrderHashes, 1)
	assert.Equal(t, order.Hash(), approval.ApprovedOrderHashes[0])
	assert.Len(t, approval.Signatures, 1)
	assert.Len(t, approval.Signatures[0], 66)
	assert.Empty(t, approval.OrdersRefusedApproval)

	cumulative, err := repo.RequestedFillAmount(context.Background(), order.Hash(), req.SignerAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(40), cumulative)
}

func TestHandleLedgerExceeded(t *testing.T) {
	chain := newTestChain()
	engine, repo := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order)

	first := signedRequest(t, chain, takerKeyHex, fillOrderCalldata(t, order, 40), 1)
	_, _, err := engine.Handle(context.Background(), chain, first)
	require.NoError(t, err)

	second := signedRequest(t, chain, takerKeyHex, fillOrderCalldata(t, order, 70), 2)
	approval, cancel, err := engine.Handle(context.Background(), chain, second)
	require.NoError(t, err)
	require.Nil(t, cancel)
	require.NotNil(t, approval)

	assert.Empty(t, approval.Signatures)
	require.Len(t, approval.OrdersRefusedApproval, 1)
	assert.Equal(t, "LedgerExceeded", string(approval.OrdersRefusedApproval[0].Reason))

	cumulative, err := repo.RequestedFillAmount(context.Background(), order.Hash(), second.SignerAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(40), cumulative)
}

func TestHandleSoftCancelDuringDelay(t *testing.T) {
	chain := newTestChain()
	chain.SelectiveDelay = 10 * time.Millisecond
	engine, repo := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order)
	req := signedRequest(t, chain, takerKeyHex, fillOrderCalldata(t, order, 40), 1)

	// The order is live at VALIDATED₁; the soft-cancel lands once the
	// received event goes out, so only the post-delay re-check can see it.
	engine.Bus = &cancellingBus{repo: repo, orderHash: order.Hash()}

	approval, cancel, err := engine.Handle(context.Background(), chain, req)
	require.NoError(t, err)
	require.Nil(t, cancel)
	require.NotNil(t, approval)

	assert.Empty(t, approval.Signatures)
	require.Len(t, approval.OrdersRefusedApproval, 1)
	assert.Equal(t, "SoftCancelled", string(approval.OrdersRefusedApproval[0].Reason))

	cumulative, err := repo.RequestedFillAmount(context.Background(), order.Hash(), req.SignerAddress)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(0), cumulative)
}

func TestHandleReplayRejected(t *testing.T) {
	chain := newTestChain()
	engine, _ := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order)
	req := signedRequest(t, chain, takerKeyHex, fillOrderCalldata(t, order, 40), 1)

	_, _, err := engine.Handle(context.Background(), chain, req)
	require.NoError(t, err)

	_, _, err = engine.Handle(context.Background(), chain, req)
	require.Error(t, err)
	cerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindTransactionAlreadyUsed, cerr.Kind)
}

func TestHandleCancelByNonMakerRejected(t *testing.T) {
	chain := newTestChain()
	engine, repo := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order) // maker = takerKeyHex's address

	calldata := cancelOrderCalldata(t, order)
	req := signedRequest(t, chain, otherMakerKeyHex, calldata, 1) // signer != maker

	_, _, err := engine.Handle(context.Background(), chain, req)
	require.Error(t, err)
	cerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindOnlyMakerCanCancelOrders, cerr.Kind)

	cancelled, err := repo.IsSoftCancelled(context.Background(), order.Hash())
	require.NoError(t, err)
	assert.False(t, cancelled)
}

// TestHandleCancelForgedSignerAddressRejected covers the vulnerability a
// naive maker-ownership check leaves open: an attacker names the victim
// maker's address as signerAddress while signing with an unrelated key.
// Without recovering the signer cryptographically, that would pass the
// o.MakerAddress == req.SignerAddress check and soft-cancel the victim's
// live order.
func TestHandleCancelForgedSignerAddressRejected(t *testing.T) {
	chain := newTestChain()
	engine, repo := newTestEngine(t, feeRecipientKeyHex)

	order := newBaseOrder(chain, feeRecipientKeyHex)
	signOrder(t, takerKeyHex, &order) // victim maker = takerKeyHex's address
	victimMaker := order.MakerAddress

	calldata := cancelOrderCalldata(t, order)
	// Signed for real by an unrelated key, then the signerAddress field is
	// overwritten to claim the victim maker's identity.
	req := signedRequest(t, chain, otherMakerKeyHex, calldata, 1)
	req.SignerAddress = victimMaker

	_, _, err := engine.Handle(context.Background(), chain, req)
	require.Error(t, err)
	cerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindTransactionSignatureInvalid, cerr.Kind)

	cancelled, err := repo.IsSoftCancelled(context.Background(), order.Hash())
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestHandleMultiRecipientBatch(t *testing.T) {
	chain := newTestChain()
	engine, _ := newTestEngine(t, feeRecipientKeyHex, otherFeeRecipientKeyHex)

	orderA := newBaseOrder(chain, feeRecipientKeyHex)
	orderA.Salt = big.NewInt(1)
	signOrder(t, takerKeyHex, &orderA)

	orderB := newBaseOrder(chain, otherFeeRecipientKeyHex)
	orderB.Salt = big.NewInt(2)
	signOrder(t, otherMakerKeyHex, &orderB)

	exchangeABI := exchange.ExchangeABI()
	method := exchangeABI.Methods["batchFillOrders"]
	packed, err := method.Inputs.Pack(
		[]rawOrderTuple{toTuple(orderA), toTuple(orderB)},
		[]*big.Int{big.NewInt(40), big.NewInt(30)},
		[][]byte{orderA.MakerSignature, orderB.MakerSignature},
	)
	require.NoError(t, err)
	calldata := append(append([]byte{}, method.ID...), packed...)

	req := signedRequest(t, chain, takerKeyHex, calldata, 1)
	approval, cancel, err := engine.Handle(context.Background(), chain, req)
	require.NoError(t, err)
	require.Nil(t, cancel)
	require.NotNil(t, approval)

	assert.Len(t, approval.Signatures, 2)
	assert.Len(t, approval.ApprovedOrderHashes, 2)

	domain := chain.CoordinatorDomain()
	digest := typeddata.CoordinatorApproval{
		OrderHashes:                   approval.ApprovedOrderHashes,
		TxOrigin:                      req.TxOrigin,
		ApprovalExpirationTimeSeconds: approval.ExpirationTimeSeconds,
	}.Hash(domain)

	feeA := crypto.PubkeyToAddress(mustKey(t, feeRecipientKeyHex).PublicKey)
	feeB := crypto.PubkeyToAddress(mustKey(t, otherFeeRecipientKeyHex).PublicKey)
	recovered := make(map[common.Address]bool)
	for _, sig := range approval.Signatures {
		recovered[recoverApprovalSigner(t, digest, sig)] = true
	}
	assert.True(t, recovered[feeA])
	assert.True(t, recovered[feeB])
}
