// Package inmemory implements the coordinator's repository interface
// (C5) over mutex-guarded maps, adapted from the memory-store style used
// by tdex-daemon's inmemory package family. Suitable for single-process
// deployments and as the fixture backend in tests.
package inmemory

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/repository"
)

type ledgerKey struct {
	orderHash common.Hash
	taker     common.Address
}

// Repository is an in-memory implementation of repository.Repository.
type Repository struct {
	lock sync.RWMutex

	softCancels map[common.Hash]bool
	ledger      map[ledgerKey]*big.Int
	seen        map[common.Hash]repository.SeenTransaction
	approvals   map[common.Hash][]repository.FillApproval
}

// New returns an empty in-memory Repository.
func New() *Repository {
	return &Repository{
		softCancels: make(map[common.Hash]bool),
		ledger:      make(map[ledgerKey]*big.Int),
		seen:        make(map[common.Hash]repository.SeenTransaction),
		approvals:   make(map[common.Hash][]repository.FillApproval),
	}
}

func (r *Repository) IsSoftCancelled(ctx context.Context, orderHash common.Hash) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.softCancels[orderHash], nil
}

func (r *Repository) SoftCancel(ctx context.Context, orderHashes []common.Hash) (map[common.Hash][]repository.FillApproval, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	outstanding := make(map[common.Hash][]repository.FillApproval)
	for _, h := range orderHashes {
		outstanding[h] = append([]repository.FillApproval(nil), r.approvals[h]...)
		r.softCancels[h] = true
	}
	return outstanding, nil
}

func (r *Repository) SoftCancelledSubset(ctx context.Context, orderHashes []common.Hash) ([]common.Hash, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	subset := make([]common.Hash, 0, len(orderHashes))
	for _, h := range orderHashes {
		if r.softCancels[h] {
			subset = append(subset, h)
		}
	}
	return subset, nil
}

func (r *Repository) RequestedFillAmount(ctx context.Context, orderHash common.Hash, taker common.Address) (*big.Int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	amount, ok := r.ledger[ledgerKey{orderHash, taker}]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(amount), nil
}

// AddIfCumulativeStaysWithin holds the write lock for its full
// read-check-write span, which is what makes the operation atomic per key
// in this backend: no other goroutine can observe or mutate the ledger
// entry mid-check.
func (r *Repository) AddIfCumulativeStaysWithin(ctx context.Context, orderHash common.Hash, taker common.Address, delta, max *big.Int) (*big.Int, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	key := ledgerKey{orderHash, taker}
	current, ok := r.ledger[key]
	if !ok {
		current = big.NewInt(0)
	}
	candidate := new(big.Int).Add(current, delta)
	if candidate.Cmp(max) > 0 {
		return new(big.Int).Set(current), false, nil
	}
	r.ledger[key] = candidate
	return new(big.Int).Set(candidate), true, nil
}

func (r *Repository) HasSeenTransaction(ctx context.Context, transactionHash common.Hash) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.seen[transactionHash]
	return ok, nil
}

func (r *Repository) InsertSeenTransaction(ctx context.Context, txn repository.SeenTransaction, approvals map[common.Hash]repository.FillApproval) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, exists := r.seen[txn.TransactionHash]; exists {
		return &repository.ErrTransactionExists{TransactionHash: txn.TransactionHash}
	}
	r.seen[txn.TransactionHash] = txn
	for orderHash, approval := range approvals {
		r.approvals[orderHash] = append(r.approvals[orderHash], approval)
	}
	return nil
}

func (r *Repository) OutstandingApprovals(ctx context.Context, orderHash common.Hash) ([]repository.FillApproval, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]repository.FillApproval(nil), r.approvals[orderHash]...), nil
}
