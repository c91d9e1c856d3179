package coordinator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/repository"
)

// SoftCancelStatus reports, for one order hash, whether it has been
// soft-cancelled and any fill-approval records still on file for it. This
// is the read-only counterpart to handleCancel's transaction-driven path:
// it lets a client poll cancellation status without constructing and
// signing a cancelOrder(s) meta-transaction.
type SoftCancelStatus struct {
	OrderHash           common.Hash
	SoftCancelled       bool
	OutstandingApproved []repository.FillApproval
}

// SoftCancelHandler answers C9 lookups against the repository's
// soft-cancel set. It holds no state of its own beyond the repository
// reference, since soft-cancellation itself is recorded exclusively
// through the approval engine's cancel path.
type SoftCancelHandler struct {
	Repo repository.Repository
}

// Status reports the soft-cancel status of each requested order hash.
func (h *SoftCancelHandler) Status(ctx context.Context, orderHashes []common.Hash) ([]SoftCancelStatus, error) {
	cancelled, err := h.Repo.SoftCancelledSubset(ctx, orderHashes)
	if err != nil {
		return nil, err
	}
	cancelledSet := make(map[common.Hash]bool, len(cancelled))
	for _, h := range cancelled {
		cancelledSet[h] = true
	}

	statuses := make([]SoftCancelStatus, len(orderHashes))
	for i, orderHash := range orderHashes {
		approvals, err := h.Repo.OutstandingApprovals(ctx, orderHash)
		if err != nil {
			return nil, err
		}
		statuses[i] = SoftCancelStatus{
			OrderHash:           orderHash,
			SoftCancelled:       cancelledSet[orderHash],
			OutstandingApproved: approvals,
		}
	}
	return statuses, nil
}
