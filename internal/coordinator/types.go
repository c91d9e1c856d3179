package coordinator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kaifufi/trade-coordinator/internal/repository"
	"github.com/kaifufi/trade-coordinator/internal/validator"
)

// Request is a decoded request_transaction body: a signed meta-transaction
// plus the account the client intends to broadcast it as.
type Request struct {
	SignerAddress         common.Address
	Data                  []byte
	Salt                  *big.Int
	ExpirationTimeSeconds *big.Int
	GasPrice              *big.Int
	Signature             []byte
	TxOrigin              common.Address
}

// ApprovalResponse is returned for a fill-shaped request.
type ApprovalResponse struct {
	ApprovalHash          common.Hash
	ApprovedOrderHashes   []common.Hash
	OrdersRefusedApproval []validator.Refusal
	Signatures            [][]byte
	ExpirationTimeSeconds *big.Int
}

// CancelResponse is returned for a cancel-shaped request.
type CancelResponse struct {
	CancelledOrderHashes      []common.Hash
	OutstandingFillSignatures []repository.FillApproval
}
