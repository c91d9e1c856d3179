// Package validator implements the request validator (C6): given a
// meta-transaction's decoded orders and fill amounts, it partitions them
// into an approved set and a refused set, consulting the repository for
// soft-cancel and ledger state. It never returns an error for a bad
// order — refusal is the error channel.
package validator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/repository"
)

// RefusalReason enumerates why an order was excluded from the approved set.
type RefusalReason string

const (
	SoftCancelled  RefusalReason = "SoftCancelled"
	LedgerExceeded RefusalReason = "LedgerExceeded"
	Expired        RefusalReason = "Expired"
	Redundant      RefusalReason = "Redundant"
)

// Refusal pairs an order hash with why it did not make the approved set.
type Refusal struct {
	OrderHash common.Hash
	Reason    RefusalReason
}

// Candidate is one order under consideration, along with the taker-asset
// amount the current request asks it to fill.
type Candidate struct {
	OrderHash             common.Hash
	ExpirationTimeSeconds *big.Int
	TakerAssetAmount      *big.Int
	FillAmount            *big.Int
}

// Result is the validator's partition of the candidate set.
type Result struct {
	Approved []Candidate
	Refused  []Refusal
}

// Validate runs the full validation contract in the spec's mandated order:
// redundant (zero fill amount) before soft-cancel before ledger, with
// expiry checked independently. now is unix seconds.
func Validate(ctx context.Context, repo repository.Repository, taker common.Address, candidates []Candidate, now int64) (Result, error) {
	var result Result

	for _, c := range candidates {
		if c.FillAmount == nil || c.FillAmount.Sign() == 0 {
			result.Refused = append(result.Refused, Refusal{OrderHash: c.OrderHash, Reason: Redundant})
			continue
		}

		if c.ExpirationTimeSeconds != nil && c.ExpirationTimeSeconds.Int64() < now {
			result.Refused = append(result.Refused, Refusal{OrderHash: c.OrderHash, Reason: Expired})
			continue
		}

		cancelled, err := repo.IsSoftCancelled(ctx, c.OrderHash)
		if err != nil {
			return Result{}, err
		}
		if cancelled {
			result.Refused = append(result.Refused, Refusal{OrderHash: c.OrderHash, Reason: SoftCancelled})
			continue
		}

		requested, err := repo.RequestedFillAmount(ctx, c.OrderHash, taker)
		if err != nil {
			return Result{}, err
		}
		projected := new(big.Int).Add(requested, c.FillAmount)
		if projected.Cmp(c.TakerAssetAmount) > 0 {
			result.Refused = append(result.Refused, Refusal{OrderHash: c.OrderHash, Reason: LedgerExceeded})
			continue
		}

		result.Approved = append(result.Approved, c)
	}

	return result, nil
}
