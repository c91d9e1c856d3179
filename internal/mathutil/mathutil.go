// Package mathutil provides the unbounded-integer arithmetic and hash/sign
// primitives the coordinator's order and calldata math is built on (C1).
package mathutil

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Min returns the smaller of a and b. Neither argument is mutated.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b. Neither argument is mutated.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// MulDiv computes floor(a*b/c) using unbounded precision. c must be non-zero;
// callers are expected to guard against a zero denominator (e.g. a zero
// makerAssetAmount), since the division-by-zero policy is a caller concern.
func MulDiv(a, b, c *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	return new(big.Int).Div(num, c)
}

// IsZero reports whether v is nil or equal to zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Keccak256 hashes data with keccak-256, the hash function EIP-712 digests
// and order/transaction hashes are built from.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Sign produces a 65-byte secp256k1 signature (r || s || v, v in {0,1}) over
// digest using key. digest must be exactly 32 bytes.
func Sign(digest []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	return crypto.Sign(digest, key)
}

// RecoverAddress recovers the signer's public key (not its address) from a
// 65-byte signature (r || s || v) over digest, matching the encoding Sign
// produces.
func RecoverAddress(digest, sig []byte) (ecdsaPub *ecdsa.PublicKey, err error) {
	return crypto.SigToPub(digest, sig)
}
