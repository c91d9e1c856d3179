package typeddata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var transactionTypeHash = crypto.Keccak256Hash([]byte(
	"ZeroExTransaction(uint256 salt,uint256 expirationTimeSeconds,uint256 gasPrice,address signerAddress,bytes data)",
))

// SignedMetaTransaction is the signed envelope a taker (or maker, for
// cancels) submits to the coordinator. Identity is its transaction hash,
// derived from every field below except Signature.
type SignedMetaTransaction struct {
	SignerAddress         common.Address
	Data                  []byte
	Salt                  *big.Int
	ExpirationTimeSeconds *big.Int
	GasPrice              *big.Int
	Signature             []byte
	Domain                Domain // exchange domain the transaction was signed under
}

// StructHash computes the EIP-712 hashStruct(ZeroExTransaction, t) value.
func (t SignedMetaTransaction) StructHash() common.Hash {
	gasPrice := t.GasPrice
	if gasPrice == nil {
		gasPrice = big.NewInt(0)
	}
	args := abi.Arguments{
		{Type: bytes32Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: addressType},
		{Type: bytes32Type},
	}
	encoded, err := args.Pack(
		transactionTypeHash,
		t.Salt,
		t.ExpirationTimeSeconds,
		gasPrice,
		t.SignerAddress,
		crypto.Keccak256Hash(t.Data),
	)
	if err != nil {
		panic("typeddata: failed to encode transaction struct: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// Hash returns the transaction hash: the EIP-712 digest under the exchange
// domain the transaction claims to be signed against.
func (t SignedMetaTransaction) Hash() common.Hash {
	return SignHash(t.Domain, t.StructHash())
}

// RecoverSigner recovers the address that produced Signature over Hash(),
// for verifying SignerAddress actually holds the corresponding key.
func RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	sig, err := normalizeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeSignature accepts either a 65-byte go-ethereum-style signature
// (r || s || v in {0,1}) or a wire-style one (v in {27,28}), returning the
// {0,1}-v form crypto.SigToPub expects.
func normalizeSignature(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, errInvalidSignatureLength
	}
	out := make([]byte, 65)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	return out, nil
}
