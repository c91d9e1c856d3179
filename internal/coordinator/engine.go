// Package coordinator implements the approval engine (C7): the request
// state machine that decodes, classifies, validates, delays,
// re-validates, signs, persists, and broadcasts a single fill or cancel
// request.
package coordinator

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/kaifufi/trade-coordinator/internal/broadcaster"
	"github.com/kaifufi/trade-coordinator/internal/exchange"
	"github.com/kaifufi/trade-coordinator/internal/fillable"
	"github.com/kaifufi/trade-coordinator/internal/logging"
	"github.com/kaifufi/trade-coordinator/internal/oracle"
	"github.com/kaifufi/trade-coordinator/internal/repository"
	"github.com/kaifufi/trade-coordinator/internal/signerset"
	"github.com/kaifufi/trade-coordinator/internal/typeddata"
	"github.com/kaifufi/trade-coordinator/internal/validator"
)

// nowFunc is overridable in tests; production code always uses wall time.
var nowFunc = func() int64 { return time.Now().Unix() }

// Engine wires together every component the approval engine's state
// machine depends on. cmd/coordinatord builds one Engine per served chain,
// since Oracle reads that chain's node; per-chain policy lives in the
// *Chain passed to each call.
type Engine struct {
	Repo    repository.Repository
	Signers *signerset.Set
	Bus     broadcaster.Broadcaster
	Oracle  oracle.Snapshot
	Log     *logrus.Logger
}

type fillableAdapter struct {
	snapshot oracle.Snapshot
}

func (f fillableAdapter) Remaining(ctx context.Context, order typeddata.Order) (*big.Int, error) {
	state, err := f.snapshot.Snapshot(ctx, order)
	if err != nil {
		return nil, err
	}
	return fillable.Remaining(order, state), nil
}

// decodeAndClassify runs the DECODED and CLASSIFIED steps shared by both
// the fill and cancel paths: it ABI-decodes signedTransaction.data against
// the Exchange ABI and hands the result to the calldata classifier.
func (e *Engine) decodeAndClassify(ctx context.Context, chain *Chain, req Request) (exchange.Classified, error) {
	classified, err := exchange.Classify(ctx, chain.ChainID, chain.ExchangeAddress, req.Data, fillableAdapter{snapshot: e.Oracle})
	if err != nil {
		if errors.Is(err, exchange.ErrUnknownSelector) {
			return exchange.Classified{}, newError(KindInvalidFunctionCall, err.Error())
		}
		return exchange.Classified{}, newError(KindZeroExTransactionDecodingFailed, err.Error())
	}
	return classified, nil
}

// Handle runs the approval engine's full state machine for one
// request_transaction call. Exactly one of the returned pointers is
// non-nil on success, depending on whether the decoded calldata targets a
// fill or a cancel method. Callers are expected to have already run
// SCHEMA_OK (JSON-schema validation of the request body).
func (e *Engine) Handle(ctx context.Context, chain *Chain, req Request) (*ApprovalResponse, *CancelResponse, error) {
	classified, err := e.decodeAndClassify(ctx, chain, req)
	if err != nil {
		return nil, nil, err
	}
	if classified.Method.IsCancel() {
		resp, err := e.handleCancel(ctx, chain, req, classified)
		return nil, resp, err
	}
	resp, err := e.handleFill(ctx, chain, req, classified)
	return resp, nil, err
}

// handleFill runs the fill-shaped half of the approval engine's state
// machine: the coordinator-order filter and everything from DEDUPED on.
// SCHEMA_OK ran in the caller, decoding and classification in Handle.
func (e *Engine) handleFill(ctx context.Context, chain *Chain, req Request, classified exchange.Classified) (*ApprovalResponse, error) {
	tx := typeddata.SignedMetaTransaction{
		SignerAddress:         req.SignerAddress,
		Data:                  req.Data,
		Salt:                  req.Salt,
		ExpirationTimeSeconds: req.ExpirationTimeSeconds,
		GasPrice:              req.GasPrice,
		Signature:             req.Signature,
		Domain:                chain.ExchangeDomain(),
	}
	txHash := tx.Hash()
	entry := e.Log.WithFields(logrus.Fields{logging.FieldChainID: chain.ChainID, logging.FieldTxHash: txHash})
	entry.WithField(logging.FieldState, "DECODED").Debug("classified transaction")

	// Reinstated per spec: the source's latest revision dropped this
	// check entirely, which would let a forged signerAddress corrupt the
	// per-taker ledger.
	recovered, err := typeddata.RecoverSigner(txHash, req.Signature)
	if err != nil || recovered != req.SignerAddress {
		return nil, newError(KindTransactionSignatureInvalid, "signature does not recover to signerAddress")
	}

	// Reinstated per spec: restrict to orders naming a feeRecipientAddress
	// this coordinator holds a key for. The source commented this filter
	// out, which would issue approvals for orders naming foreign fee
	// recipients.
	orders, fillAmounts := filterCoordinatorOrders(e.Signers, classified.Orders, classified.FillAmounts)
	if len(orders) == 0 {
		return nil, newError(KindNoCoordinatorOrdersIncluded, "no order names a fee recipient this coordinator serves")
	}

	seen, err := e.Repo.HasSeenTransaction(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, newError(KindTransactionAlreadyUsed, txHash.Hex())
	}

	candidates := toCandidates(orders, fillAmounts)

	result, err := validator.Validate(ctx, e.Repo, req.SignerAddress, candidates, nowFunc())
	if err != nil {
		return nil, err
	}

	e.Bus.Publish(broadcaster.Event{
		ChainID: chain.ChainID,
		Type:    broadcaster.FillRequestReceived,
		Payload: broadcaster.FillRequestReceivedPayload{TransactionHash: txHash},
	})

	// From here on the request is committed to running through signing and
	// persistence: per spec, a dropped client connection during the
	// selective delay must not abort VALIDATED₂/SIGNED/PERSISTED. Detach
	// from the inbound request's cancellation; downstream I/O still gets
	// its own deadline where it matters.
	ctx = context.WithoutCancel(ctx)

	if chain.SelectiveDelay > 0 {
		entry.WithField(logging.FieldState, "DELAYED").Debug("holding for selective delay")
		time.Sleep(chain.SelectiveDelay)
	}

	// The persist deadline starts after the delay, so it bounds only the
	// re-validation/reservation/signing/persistence tail.
	if chain.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, chain.PersistTimeout)
		defer cancel()
	}

	if chain.SelectiveDelay > 0 {
		reValidated, err := validator.Validate(ctx, e.Repo, req.SignerAddress, approvedToCandidates(result.Approved), nowFunc())
		if err != nil {
			return nil, err
		}
		result.Refused = append(result.Refused, reValidated.Refused...)
		result.Approved = reValidated.Approved
	}

	now := nowFunc()
	approvalExpiration := big.NewInt(now + int64(chain.ApprovalExpirationDuration.Seconds()))
	if approvalExpiration.Cmp(req.ExpirationTimeSeconds) < 0 {
		return nil, newError(KindTransactionExpirationTooHigh, "approval would expire before the meta-transaction")
	}

	// PERSISTED's atomic ledger reservation is the actual race-closing
	// gate (spec's concurrency gap note): a candidate that loses the race
	// here is moved to refused even though it passed VALIDATED₂.
	finalApproved := make([]validator.Candidate, 0, len(result.Approved))
	for _, c := range result.Approved {
		_, applied, err := e.Repo.AddIfCumulativeStaysWithin(ctx, c.OrderHash, req.SignerAddress, c.FillAmount, c.TakerAssetAmount)
		if err != nil {
			return nil, err
		}
		if !applied {
			result.Refused = append(result.Refused, validator.Refusal{OrderHash: c.OrderHash, Reason: validator.LedgerExceeded})
			continue
		}
		finalApproved = append(finalApproved, c)
	}

	approvedHashes := make([]common.Hash, len(finalApproved))
	fillAmountsOut := make([]*big.Int, len(finalApproved))
	feeRecipientByOrder := make(map[common.Hash]common.Address, len(finalApproved))
	for i, c := range finalApproved {
		approvedHashes[i] = c.OrderHash
		fillAmountsOut[i] = c.FillAmount
	}
	for _, o := range orders {
		feeRecipientByOrder[o.Hash()] = o.FeeRecipientAddress
	}

	approval := typeddata.CoordinatorApproval{
		OrderHashes:                   approvedHashes,
		TxOrigin:                      req.TxOrigin,
		ApprovalExpirationTimeSeconds: approvalExpiration,
	}
	domain := chain.CoordinatorDomain()
	approvalHash := approval.Hash(domain)

	distinctRecipients := distinctFeeRecipients(approvedHashes, feeRecipientByOrder)
	signatures := make([][]byte, 0, len(distinctRecipients))
	approvalsByOrder := make(map[common.Hash]repository.FillApproval, len(approvedHashes))
	for _, recipient := range distinctRecipients {
		sig, err := e.Signers.Sign(recipient, approval, domain)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
		for _, h := range approvedHashes {
			if feeRecipientByOrder[h] == recipient {
				approvalsByOrder[h] = repository.FillApproval{
					TransactionHash: txHash,
					ApprovalHash:    approvalHash,
					Signature:       sig,
					ExpirationTime:  approvalExpiration,
				}
			}
		}
	}

	if len(approvedHashes) > 0 {
		if err := e.Repo.InsertSeenTransaction(ctx, repository.SeenTransaction{
			TransactionHash: txHash,
			TxOrigin:        req.TxOrigin,
			Signatures:      signatures,
			ExpirationTime:  req.ExpirationTimeSeconds,
			SignerAddress:   req.SignerAddress,
			OrderHashes:     approvedHashes,
			FillAmounts:     fillAmountsOut,
		}, approvalsByOrder); err != nil {
			return nil, err
		}

		e.Bus.Publish(broadcaster.Event{
			ChainID: chain.ChainID,
			Type:    broadcaster.FillRequestAccepted,
			Payload: broadcaster.FillRequestAcceptedPayload{
				ApprovalHash:                  approvalHash,
				FunctionName:                  classified.Method.String(),
				RepresentativeOrderHash:       approvedHashes[0],
				TakerAssetFillAmounts:         fillAmountsOut,
				ApprovedOrderHashes:           approvedHashes,
				ApprovalExpirationTimeSeconds: approvalExpiration,
			},
		})
		entry.WithField(logging.FieldState, "PERSISTED").WithField("approved_orders", len(approvedHashes)).Info("issued fill approval")
	}

	return &ApprovalResponse{
		ApprovalHash:          approvalHash,
		ApprovedOrderHashes:   approvedHashes,
		OrdersRefusedApproval: result.Refused,
		Signatures:            signatures,
		ExpirationTimeSeconds: approvalExpiration,
	}, nil
}

// handleCancel runs the cancellation path: bypasses dedup, delay,
// re-validation, expiration bounds, and per-recipient signing entirely.
func (e *Engine) handleCancel(ctx context.Context, chain *Chain, req Request, classified exchange.Classified) (*CancelResponse, error) {
	// Mirrors handleFill's signature check (Open Question #2): signerAddress
	// is taken verbatim from the request body, so without recovering it
	// from the signature a forged signerAddress could soft-cancel another
	// maker's orders.
	tx := typeddata.SignedMetaTransaction{
		SignerAddress:         req.SignerAddress,
		Data:                  req.Data,
		Salt:                  req.Salt,
		ExpirationTimeSeconds: req.ExpirationTimeSeconds,
		GasPrice:              req.GasPrice,
		Signature:             req.Signature,
		Domain:                chain.ExchangeDomain(),
	}
	recovered, err := typeddata.RecoverSigner(tx.Hash(), req.Signature)
	if err != nil || recovered != req.SignerAddress {
		return nil, newError(KindTransactionSignatureInvalid, "signature does not recover to signerAddress")
	}

	for _, o := range classified.Orders {
		if o.MakerAddress != req.SignerAddress {
			return nil, newError(KindOnlyMakerCanCancelOrders, o.Hash().Hex())
		}
	}

	orderHashes := make([]common.Hash, len(classified.Orders))
	for i, o := range classified.Orders {
		orderHashes[i] = o.Hash()
	}

	outstanding, err := e.Repo.SoftCancel(ctx, orderHashes)
	if err != nil {
		return nil, err
	}

	var flattened []repository.FillApproval
	for _, approvals := range outstanding {
		flattened = append(flattened, approvals...)
	}

	e.Bus.Publish(broadcaster.Event{
		ChainID: chain.ChainID,
		Type:    broadcaster.CancelRequestAccepted,
		Payload: broadcaster.CancelRequestAcceptedPayload{CancelledOrderHashes: orderHashes},
	})
	e.Log.WithField(logging.FieldChainID, chain.ChainID).WithField(logging.FieldState, "SOFT_CANCELLED").
		WithField("orders", len(orderHashes)).Info("soft-cancelled orders")

	return &CancelResponse{
		CancelledOrderHashes:      orderHashes,
		OutstandingFillSignatures: flattened,
	}, nil
}

func filterCoordinatorOrders(signers *signerset.Set, orders []typeddata.Order, fillAmounts []*big.Int) ([]typeddata.Order, []*big.Int) {
	filteredOrders := make([]typeddata.Order, 0, len(orders))
	filteredAmounts := make([]*big.Int, 0, len(fillAmounts))
	for i, o := range orders {
		if signers.Has(o.FeeRecipientAddress) {
			filteredOrders = append(filteredOrders, o)
			filteredAmounts = append(filteredAmounts, fillAmounts[i])
		}
	}
	return filteredOrders, filteredAmounts
}

func toCandidates(orders []typeddata.Order, fillAmounts []*big.Int) []validator.Candidate {
	candidates := make([]validator.Candidate, len(orders))
	for i, o := range orders {
		candidates[i] = validator.Candidate{
			OrderHash:             o.Hash(),
			ExpirationTimeSeconds: o.ExpirationTimeSeconds,
			TakerAssetAmount:      o.TakerAssetAmount,
			FillAmount:            fillAmounts[i],
		}
	}
	return candidates
}

func approvedToCandidates(approved []validator.Candidate) []validator.Candidate {
	return append([]validator.Candidate(nil), approved...)
}

func distinctFeeRecipients(orderHashes []common.Hash, feeRecipientByOrder map[common.Hash]common.Address) []common.Address {
	seen := make(map[common.Address]bool)
	var recipients []common.Address
	for _, h := range orderHashes {
		recipient := feeRecipientByOrder[h]
		if !seen[recipient] {
			seen[recipient] = true
			recipients = append(recipients, recipient)
		}
	}
	return recipients
}
