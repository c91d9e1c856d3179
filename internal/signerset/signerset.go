// Package signerset holds the coordinator's fee-recipient private keys
// and produces CoordinatorApproval signatures on their behalf. A
// coordinator instance may act on behalf of several distinct
// feeRecipientAddress values (spec 4.5 step 10: "sign once per distinct
// feeRecipientAddress appearing in the approved set").
package signerset

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/kaifufi/trade-coordinator/internal/mathutil"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

// Set maps a fee-recipient address to the private key authorized to sign
// approvals on its behalf.
type Set struct {
	keys map[common.Address]*ecdsa.PrivateKey
}

// New builds a Set from raw hex-encoded private keys (as loaded from
// configuration). Each key's derived address becomes its fee-recipient
// identity.
func New(privateKeyHexes []string) (*Set, error) {
	keys := make(map[common.Address]*ecdsa.PrivateKey, len(privateKeyHexes))
	for _, hex := range privateKeyHexes {
		key, err := crypto.HexToECDSA(hex)
		if err != nil {
			return nil, fmt.Errorf("signerset: invalid private key: %w", err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		keys[addr] = key
	}
	return &Set{keys: keys}, nil
}

// Addresses returns every fee-recipient address this coordinator can sign
// approvals for.
func (s *Set) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(s.keys))
	for addr := range s.keys {
		addrs = append(addrs, addr)
	}
	return addrs
}

// Has reports whether feeRecipient is one this coordinator holds a key
// for.
func (s *Set) Has(feeRecipient common.Address) bool {
	_, ok := s.keys[feeRecipient]
	return ok
}

// eip712SignatureType is the trailing signature-type tag the Coordinator
// contract's signature-validation library expects on an ECDSA-over-EIP712
// signature, distinguishing it from the other signature encodings the
// exchange ecosystem supports (EthSign, Wallet, Validator, ...).
const eip712SignatureType = 0x05

// Sign produces a CoordinatorApproval signature under feeRecipient's key.
// The returned 66-byte wire form is v(1)‖r(32)‖s(32)‖0x05, v in {27,28}.
func (s *Set) Sign(feeRecipient common.Address, approval typeddata.CoordinatorApproval, domain typeddata.Domain) ([]byte, error) {
	key, ok := s.keys[feeRecipient]
	if !ok {
		return nil, fmt.Errorf("signerset: no key held for fee recipient %s", feeRecipient.Hex())
	}
	digest := approval.Hash(domain)
	sig, err := mathutil.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// sig is r(32)‖s(32)‖v(1) from crypto.Sign; the wire form leads with v.
	wire := make([]byte, 66)
	wire[0] = sig[64] + 27
	copy(wire[1:65], sig[:64])
	wire[65] = eip712SignatureType
	return wire, nil
}
