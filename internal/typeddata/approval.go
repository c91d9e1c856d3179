package typeddata

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// CoordinatorDomainName is fixed by the protocol; version is per-deployment.
const CoordinatorDomainName = "0x Protocol Coordinator"

// CoordinatorDomain builds the domain separator CoordinatorApproval values
// are signed under.
func CoordinatorDomain(version string, chainID *big.Int, coordinatorContractAddress common.Address) Domain {
	return Domain{
		Name:              CoordinatorDomainName,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: coordinatorContractAddress,
	}
}

var approvalTypeHash = crypto.Keccak256Hash([]byte(
	"CoordinatorApproval(bytes32[] zeroxOrderHashes,address txOrigin,uint256 approvalExpirationTimeSeconds)",
))

// CoordinatorApproval is the artifact the approval engine produces and
// signs: an ordered set of approved order hashes, the account permitted to
// broadcast the fill, and the approval's own expiration.
type CoordinatorApproval struct {
	OrderHashes                   []common.Hash
	TxOrigin                      common.Address
	ApprovalExpirationTimeSeconds *big.Int
}

// StructHash computes hashStruct(CoordinatorApproval, a) following the
// EIP-712 dynamic-array rule: keccak256(concat(orderHashes)) stands in for
// the array field.
func (a CoordinatorApproval) StructHash() common.Hash {
	concatenated := make([]byte, 0, 32*len(a.OrderHashes))
	for _, h := range a.OrderHashes {
		concatenated = append(concatenated, h.Bytes()...)
	}
	orderHashesHash := crypto.Keccak256Hash(concatenated)

	args := abi.Arguments{
		{Type: bytes32Type}, // typeHash
		{Type: bytes32Type}, // keccak256(concat(orderHashes))
		{Type: addressType}, // txOrigin
		{Type: uint256Type}, // approvalExpirationTimeSeconds
	}
	encoded, err := args.Pack(
		approvalTypeHash,
		orderHashesHash,
		a.TxOrigin,
		a.ApprovalExpirationTimeSeconds,
	)
	if err != nil {
		panic("typeddata: failed to encode approval struct: " + err.Error())
	}
	return crypto.Keccak256Hash(encoded)
}

// Hash returns the digest that gets signed by the coordinator's
// fee-recipient keys, under the given coordinator domain.
func (a CoordinatorApproval) Hash(domain Domain) common.Hash {
	return SignHash(domain, a.StructHash())
}
