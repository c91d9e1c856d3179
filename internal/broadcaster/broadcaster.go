// Package broadcaster defines the coordinator's event-publishing boundary
// (C8): best-effort, per-chain-id fanout of lifecycle events to
// subscribers. No persistence, no retry — delivery is the transport's
// concern.
package broadcaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names one of the three lifecycle events the coordinator emits.
type EventType string

const (
	FillRequestReceived   EventType = "FILL_REQUEST_RECEIVED"
	FillRequestAccepted   EventType = "FILL_REQUEST_ACCEPTED"
	CancelRequestAccepted EventType = "CANCEL_REQUEST_ACCEPTED"
)

// FillRequestReceivedPayload accompanies FillRequestReceived: only the
// transaction hash is known this early in the pipeline.
type FillRequestReceivedPayload struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// FillRequestAcceptedPayload accompanies FillRequestAccepted.
type FillRequestAcceptedPayload struct {
	ApprovalHash                  common.Hash   `json:"approvalHash"`
	FunctionName                  string        `json:"functionName"`
	RepresentativeOrderHash       common.Hash   `json:"representativeOrderHash"`
	TakerAssetFillAmounts         []*big.Int    `json:"takerAssetFillAmounts"`
	ApprovedOrderHashes           []common.Hash `json:"approvedOrderHashes"`
	ApprovalExpirationTimeSeconds *big.Int      `json:"approvalExpirationTimeSeconds"`
}

// CancelRequestAcceptedPayload accompanies CancelRequestAccepted.
type CancelRequestAcceptedPayload struct {
	CancelledOrderHashes []common.Hash `json:"cancelledOrderHashes"`
}

// Event is one lifecycle notification, scoped to a single chain.
type Event struct {
	ChainID *big.Int    `json:"chainId"`
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// Broadcaster publishes events to whatever transport-level subscribers
// exist for a chain. Publish never blocks on a slow or absent subscriber
// and never returns an error: best-effort delivery only.
type Broadcaster interface {
	Publish(event Event)
}
