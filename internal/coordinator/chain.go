package coordinator

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/typeddata"
)

// Chain is the immutable per-chain context every request is evaluated
// against: the canonical exchange contract, this coordinator's own
// on-chain identity, and its timing policy. Per the design note about the
// source's shared per-chain state, this is constructed once at startup
// and passed by reference rather than mutated global state.
type Chain struct {
	ChainID                    *big.Int
	ExchangeAddress            common.Address
	CoordinatorContractAddress common.Address
	CoordinatorDomainVersion   string

	SelectiveDelay             time.Duration
	ApprovalExpirationDuration time.Duration

	// PersistTimeout bounds the re-validation/ledger-reservation/signing/
	// persistence tail once it is detached from the inbound request's own
	// cancellation. Zero means no deadline is applied.
	PersistTimeout time.Duration
}

// CoordinatorDomain builds the EIP-712 domain CoordinatorApproval values
// for this chain are signed under.
func (c *Chain) CoordinatorDomain() typeddata.Domain {
	return typeddata.CoordinatorDomain(c.CoordinatorDomainVersion, c.ChainID, c.CoordinatorContractAddress)
}

// ExchangeDomain builds the EIP-712 domain signed meta-transactions
// targeting this chain's exchange are verified under.
func (c *Chain) ExchangeDomain() typeddata.Domain {
	return typeddata.ExchangeDomain(c.ChainID, c.ExchangeAddress)
}
