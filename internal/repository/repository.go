// Package repository defines the coordinator's persistence boundary (C5):
// soft-cancel flags, the per-(order, taker) fill ledger, transaction
// dedup, and outstanding fill-approval records. Concrete backends live in
// the inmemory and postgres subpackages.
package repository

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SeenTransaction is what gets recorded the first (and only) time a
// signed meta-transaction is successfully approved, per invariant 4:
// every approval signature must be auditable back to its pre-image.
type SeenTransaction struct {
	TransactionHash common.Hash
	TxOrigin        common.Address
	Signatures      [][]byte
	ExpirationTime  *big.Int
	SignerAddress   common.Address
	OrderHashes     []common.Hash
	FillAmounts     []*big.Int
}

// FillApproval is an outstanding approval record kept per order hash, so
// that a subsequent soft-cancel can report which in-flight approvals it
// invalidates.
type FillApproval struct {
	TransactionHash common.Hash
	ApprovalHash    common.Hash
	Signature       []byte
	ExpirationTime  *big.Int
}

// ErrTransactionExists is returned by InsertSeenTransaction when the
// transaction hash is already recorded, preserving invariant 3 (a
// transaction hash never reappears with different contents — the
// coordinator engine's DEDUPED check exists precisely to keep this from
// happening in practice; the repository refusing a second insert is the
// last line of defense).
type ErrTransactionExists struct {
	TransactionHash common.Hash
}

func (e *ErrTransactionExists) Error() string {
	return "repository: transaction " + e.TransactionHash.Hex() + " already recorded"
}

// Repository is the coordinator's full persistence contract.
type Repository interface {
	// IsSoftCancelled reports whether orderHash has ever been soft-cancelled.
	IsSoftCancelled(ctx context.Context, orderHash common.Hash) (bool, error)

	// SoftCancel marks orderHashes as cancelled, grow-only (already-cancelled
	// hashes are idempotent no-ops). Returns, for every hash in orderHashes,
	// the outstanding FillApproval records on file for it, so callers can
	// report invalidated approvals; it does not report which hashes were
	// newly marked.
	SoftCancel(ctx context.Context, orderHashes []common.Hash) (outstanding map[common.Hash][]FillApproval, err error)

	// SoftCancelledSubset returns the subset of orderHashes present in the
	// soft-cancel set, for C9's read-only lookup.
	SoftCancelledSubset(ctx context.Context, orderHashes []common.Hash) ([]common.Hash, error)

	// RequestedFillAmount returns the cumulative taker-asset amount
	// previously approved for (orderHash, taker).
	RequestedFillAmount(ctx context.Context, orderHash common.Hash, taker common.Address) (*big.Int, error)

	// AddIfCumulativeStaysWithin atomically increments the ledger entry
	// for (orderHash, taker) by delta, but only if doing so would not
	// push the cumulative total past max. Returns the resulting
	// cumulative total and whether the add was applied. This is the
	// single operation the spec requires to close the read-modify-write
	// race across concurrent requests from the same taker for the same
	// order.
	AddIfCumulativeStaysWithin(ctx context.Context, orderHash common.Hash, taker common.Address, delta, max *big.Int) (newCumulative *big.Int, applied bool, err error)

	// HasSeenTransaction reports whether transactionHash has already been
	// recorded.
	HasSeenTransaction(ctx context.Context, transactionHash common.Hash) (bool, error)

	// InsertSeenTransaction records a newly approved transaction and its
	// fill-approval records against every order hash it touches. Fails
	// with *ErrTransactionExists if the hash is already present.
	InsertSeenTransaction(ctx context.Context, txn SeenTransaction, approvals map[common.Hash]FillApproval) error

	// OutstandingApprovals returns the fill-approval records currently on
	// file for orderHash (used when reporting soft-cancel fallout outside
	// of SoftCancel's own return value, e.g. via C9).
	OutstandingApprovals(ctx context.Context, orderHash common.Hash) ([]FillApproval, error)
}
