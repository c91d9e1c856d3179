package typeddata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ExchangeDomainName/Version parametrize the EIP-712 domain that orders and
// meta-transactions are signed under — the public exchange contract's own
// domain, distinct from the coordinator's approval domain.
const (
	ExchangeDomainName    = "0x Protocol"
	ExchangeDomainVersion = "3.0.0"
)

// ExchangeDomain builds the domain separator orders and meta-transactions
// are hashed under.
func ExchangeDomain(chainID *big.Int, exchangeAddress common.Address) Domain {
	return Domain{
		Name:              ExchangeDomainName,
		Version:           ExchangeDomainVersion,
		ChainID:           chainID,
		VerifyingContract: exchangeAddress,
	}
}

var orderTypeHash = crypto.Keccak256Hash([]byte(
	"Order(address makerAddress,address takerAddress,address feeRecipientAddress,uint256 makerAssetAmount,uint256 takerAssetAmount,uint256 makerFee,uint256 takerFee,uint256 expirationTimeSeconds,uint256 salt,uint256 chainId,address exchangeAddress,bytes makerAssetData,bytes takerAssetData)",
))

// Order is the off-chain limit order described in the data model: identity
// is its order hash, derived from every field below except MakerSignature.
type Order struct {
	MakerAddress          common.Address
	TakerAddress          common.Address
	FeeRecipientAddress   common.Address
	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFee              *big.Int
	TakerFee              *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
	ChainID               *big.Int
	ExchangeAddress       common.Address
	MakerAssetData        []byte
	TakerAssetData        []byte
	MakerSignature        []byte
}

// StructHash computes the EIP-712 hashStruct(Order, o) value.
func (o Order) StructHash() common.Hash {
	args := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: addressType}, // makerAddress
		{Type: addressType}, // takerAddress
		{Type: addressType}, // feeRecipientAddress
		{Type: uint256Type}, // makerAssetAmount
		{Type: uint256Type}, // takerAssetAmount
		{Type: uint256Type}, // makerFee
		{Type: uint256Type}, // takerFee
		{Type: uint256Type}, // expirationTimeSeconds
		{Type: uint256Type}, // salt
		{Type: uint256Type}, // chainId
		{Type: addressType}, // exchangeAddress
		{Type: bytes32Type}, // keccak256(makerAssetData)
		{Type: bytes32Type}, // keccak256(takerAssetData)
	}
	encoded, err := args.Pack(
		orderTypeHash,
		o.MakerAddress,
		o.TakerAddress,
		o.FeeRecipientAddress,
		o.MakerAssetAmount,
		o.TakerAssetAmount,
		o.MakerFee,
		o.TakerFee,
		o.ExpirationTimeSeconds,
		o.Salt,
		o.ChainID,
		o.ExchangeAddress,
		crypto.Keccak256Hash(o.MakerAssetData),
		crypto.Keccak256Hash(o.TakerAssetData),
	)
	if err != nil {
		panic("typeddata: failed to encode order struct: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// Hash returns the order hash: the EIP-712 digest of the order under the
// exchange's own domain (chain-specific per the order's ChainID and
// ExchangeAddress).
func (o Order) Hash() common.Hash {
	domain := ExchangeDomain(o.ChainID, o.ExchangeAddress)
	return SignHash(domain, o.StructHash())
}
