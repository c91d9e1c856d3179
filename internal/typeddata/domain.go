// Package typeddata implements the EIP-712 struct-hashing this coordinator
// needs: order identity, meta-transaction identity, and the
// CoordinatorApproval digest it signs. Adapted from the teacher SDK's
// chain/eip712.go, generalized from a single hardcoded domain to the two
// domains this system actually needs (the exchange's, for order/transaction
// identity, and the coordinator's own, for approvals).
package typeddata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

var (
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	uint8Type, _   = abi.NewType("uint8", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
)

// Domain is an EIP-712 domain separator.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Hash computes the domain separator per EIP-712 §"Definition of
// domainSeparator".
func (d Domain) Hash() common.Hash {
	args := abi.Arguments{
		{Type: bytes32Type},
		{Type: bytes32Type},
		{Type: bytes32Type},
		{Type: uint256Type},
		{Type: addressType},
	}
	encoded, err := args.Pack(
		domainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	if err != nil {
		panic("typeddata: failed to encode domain separator: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// SignHash computes keccak256(0x1901 || domainSeparator || structHash), the
// digest that gets ECDSA-signed under EIP-712.
func SignHash(domain Domain, structHash common.Hash) common.Hash {
	domainSeparator := domain.Hash()
	data := make([]byte, 0, 2+32+32)
	data = append(data, 0x19, 0x01)
	data = append(data, domainSeparator.Bytes()...)
	data = append(data, structHash.Bytes()...)
	return crypto.Keccak256Hash(data)
}
