package httpapi

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/kaifufi/trade-coordinator/internal/coordinator"
)

// ValidationError is the structured error entry named in the external
// interfaces section: {code, field, reason, entities?}. No handler fills
// Entities at present; per-order refusals are reported in the 200
// response's ordersRefusedApproval, not as ValidationErrors.
type ValidationError struct {
	Code     string   `json:"code"`
	Field    string   `json:"field,omitempty"`
	Reason   string   `json:"reason"`
	Entities []string `json:"entities,omitempty"`
}

// requestTransactionBody is the wire shape of a POST .../request_transaction
// body: a signed meta-transaction plus the account the caller intends to
// broadcast it as.
type requestTransactionBody struct {
	SignerAddress         string `json:"signerAddress"`
	Data                  string `json:"data"`
	Salt                  string `json:"salt"`
	ExpirationTimeSeconds string `json:"expirationTimeSeconds"`
	GasPrice              string `json:"gasPrice"`
	Signature             string `json:"signature"`
	TxOrigin              string `json:"txOrigin"`
}

func (b requestTransactionBody) toRequest() (coordinator.Request, error) {
	data, err := hexutil.Decode(b.Data)
	if err != nil {
		return coordinator.Request{}, invalidField("data", err)
	}
	sig, err := hexutil.Decode(b.Signature)
	if err != nil {
		return coordinator.Request{}, invalidField("signature", err)
	}
	salt, ok := new(big.Int).SetString(b.Salt, 10)
	if !ok {
		return coordinator.Request{}, invalidField("salt", errBadInteger)
	}
	expiration, ok := new(big.Int).SetString(b.ExpirationTimeSeconds, 10)
	if !ok {
		return coordinator.Request{}, invalidField("expirationTimeSeconds", errBadInteger)
	}
	gasPrice := new(big.Int)
	if b.GasPrice != "" {
		if gasPrice, ok = new(big.Int).SetString(b.GasPrice, 10); !ok {
			return coordinator.Request{}, invalidField("gasPrice", errBadInteger)
		}
	}
	return coordinator.Request{
		SignerAddress:         common.HexToAddress(b.SignerAddress),
		Data:                  data,
		Salt:                  salt,
		ExpirationTimeSeconds: expiration,
		GasPrice:              gasPrice,
		Signature:             sig,
		TxOrigin:              common.HexToAddress(b.TxOrigin),
	}, nil
}

var errBadInteger = &fieldDecodeError{"not a base-10 integer string"}

type fieldDecodeError struct{ msg string }

func (e *fieldDecodeError) Error() string { return e.msg }

func invalidField(field string, err error) error {
	return &ValidationError{Code: "SCHEMA_INVALID", Field: field, Reason: err.Error()}
}

func (e *ValidationError) Error() string { return e.Code + ": " + e.Reason }

// approvalResponseBody mirrors coordinator.ApprovalResponse for the wire.
type approvalResponseBody struct {
	ApprovalHash          string        `json:"approvalHash"`
	ApprovedOrderHashes   []string      `json:"approvedOrderHashes"`
	OrdersRefusedApproval []refusalBody `json:"ordersRefusedApproval"`
	Signatures            []string      `json:"signatures"`
	ExpirationTimeSeconds string        `json:"expirationTimeSeconds"`
}

type refusalBody struct {
	OrderHash string `json:"orderHash"`
	Reason    string `json:"reason"`
}

func newApprovalResponseBody(resp *coordinator.ApprovalResponse) approvalResponseBody {
	hashes := make([]string, len(resp.ApprovedOrderHashes))
	for i, h := range resp.ApprovedOrderHashes {
		hashes[i] = h.Hex()
	}
	sigs := make([]string, len(resp.Signatures))
	for i, s := range resp.Signatures {
		sigs[i] = hexutil.Encode(s)
	}
	refusals := make([]refusalBody, len(resp.OrdersRefusedApproval))
	for i, r := range resp.OrdersRefusedApproval {
		refusals[i] = refusalBody{OrderHash: r.OrderHash.Hex(), Reason: string(r.Reason)}
	}
	return approvalResponseBody{
		ApprovalHash:          resp.ApprovalHash.Hex(),
		ApprovedOrderHashes:   hashes,
		OrdersRefusedApproval: refusals,
		Signatures:            sigs,
		ExpirationTimeSeconds: resp.ExpirationTimeSeconds.String(),
	}
}

type cancelResponseBody struct {
	ZeroxOrderHashes          []string           `json:"zeroxOrderHashes"`
	OutstandingFillSignatures []fillApprovalBody `json:"outstandingFillSignatures"`
}

type fillApprovalBody struct {
	TransactionHash string `json:"transactionHash"`
	ApprovalHash    string `json:"approvalHash"`
	Signature       string `json:"signature"`
	ExpirationTime  string `json:"expirationTime"`
}

func newCancelResponseBody(resp *coordinator.CancelResponse) cancelResponseBody {
	hashes := make([]string, len(resp.CancelledOrderHashes))
	for i, h := range resp.CancelledOrderHashes {
		hashes[i] = h.Hex()
	}
	outstanding := make([]fillApprovalBody, len(resp.OutstandingFillSignatures))
	for i, a := range resp.OutstandingFillSignatures {
		outstanding[i] = fillApprovalBody{
			TransactionHash: a.TransactionHash.Hex(),
			ApprovalHash:    a.ApprovalHash.Hex(),
			Signature:       hexutil.Encode(a.Signature),
			ExpirationTime:  a.ExpirationTime.String(),
		}
	}
	return cancelResponseBody{ZeroxOrderHashes: hashes, OutstandingFillSignatures: outstanding}
}

type softCancelsRequestBody struct {
	OrderHashes []string `json:"orderHashes"`
}

type softCancelsResponseBody struct {
	OrderHashes []string `json:"orderHashes"`
}

func parseOrderHashes(raw []string) []common.Hash {
	hashes := make([]common.Hash, len(raw))
	for i, h := range raw {
		hashes[i] = common.HexToHash(h)
	}
	return hashes
}

// errorFromCoordinatorError maps a *coordinator.Error to the wire
// ValidationError envelope, per the taxonomy in the error handling design.
func errorFromCoordinatorError(err *coordinator.Error) ValidationError {
	return ValidationError{Code: string(err.Kind), Reason: err.Message}
}
