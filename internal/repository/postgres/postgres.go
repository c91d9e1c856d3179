// Package postgres implements the coordinator's repository interface
// (C5) against Postgres via pgx/v5's pool, following the pgxpool wiring
// style of pkg/db in the broader dependency pack. Amounts are stored as
// decimal text since ERC20 quantities routinely exceed 64 bits.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kaifufi/trade-coordinator/internal/repository"
)

// Schema is the DDL this repository expects. Callers are responsible for
// applying it (via a migration tool); the repository itself never issues
// DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS soft_cancels (
	order_hash TEXT PRIMARY KEY,
	cancelled_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fill_ledger (
	order_hash TEXT NOT NULL,
	taker TEXT NOT NULL,
	cumulative_amount TEXT NOT NULL,
	PRIMARY KEY (order_hash, taker)
);

CREATE TABLE IF NOT EXISTS seen_transactions (
	transaction_hash TEXT PRIMARY KEY,
	tx_origin TEXT NOT NULL,
	signatures JSONB NOT NULL,
	expiration_time TEXT NOT NULL,
	signer_address TEXT NOT NULL,
	order_hashes JSONB NOT NULL,
	fill_amounts JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fill_approvals (
	order_hash TEXT NOT NULL,
	transaction_hash TEXT NOT NULL,
	approval_hash TEXT NOT NULL,
	signature BYTEA NOT NULL,
	expiration_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS fill_approvals_order_hash_idx ON fill_approvals (order_hash);
`

// Repository is a Postgres-backed repository.Repository.
type Repository struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) IsSoftCancelled(ctx context.Context, orderHash common.Hash) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM soft_cancels WHERE order_hash = $1)`,
		orderHash.Hex(),
	).Scan(&exists)
	return exists, err
}

func (r *Repository) SoftCancel(ctx context.Context, orderHashes []common.Hash) (map[common.Hash][]repository.FillApproval, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	outstanding := make(map[common.Hash][]repository.FillApproval, len(orderHashes))
	for _, h := range orderHashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO soft_cancels (order_hash) VALUES ($1) ON CONFLICT (order_hash) DO NOTHING`,
			h.Hex(),
		); err != nil {
			return nil, err
		}
		approvals, err := queryOutstandingApprovals(ctx, tx, h)
		if err != nil {
			return nil, err
		}
		outstanding[h] = approvals
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return outstanding, nil
}

func (r *Repository) SoftCancelledSubset(ctx context.Context, orderHashes []common.Hash) ([]common.Hash, error) {
	if len(orderHashes) == 0 {
		return nil, nil
	}
	hexHashes := make([]string, len(orderHashes))
	for i, h := range orderHashes {
		hexHashes[i] = h.Hex()
	}
	rows, err := r.pool.Query(ctx,
		`SELECT order_hash FROM soft_cancels WHERE order_hash = ANY($1)`,
		hexHashes,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subset []common.Hash
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, err
		}
		subset = append(subset, common.HexToHash(hex))
	}
	return subset, rows.Err()
}

func (r *Repository) RequestedFillAmount(ctx context.Context, orderHash common.Hash, taker common.Address) (*big.Int, error) {
	var amountStr string
	err := r.pool.QueryRow(ctx,
		`SELECT cumulative_amount FROM fill_ledger WHERE order_hash = $1 AND taker = $2`,
		orderHash.Hex(), taker.Hex(),
	).Scan(&amountStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, errors.New("postgres: corrupt cumulative_amount value")
	}
	return amount, nil
}

// AddIfCumulativeStaysWithin first makes sure the ledger row exists
// (inserting a zero row when there is none), then locks it for the
// duration of the check via SELECT ... FOR UPDATE inside a transaction,
// giving the same per-key atomicity the in-memory backend gets from
// holding a mutex across the whole read-check-write span.
func (r *Repository) AddIfCumulativeStaysWithin(ctx context.Context, orderHash common.Hash, taker common.Address, delta, max *big.Int) (*big.Int, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO fill_ledger (order_hash, taker, cumulative_amount) VALUES ($1, $2, '0')
		 ON CONFLICT (order_hash, taker) DO NOTHING`,
		orderHash.Hex(), taker.Hex(),
	); err != nil {
		return nil, false, err
	}

	var currentStr string
	err = tx.QueryRow(ctx,
		`SELECT cumulative_amount FROM fill_ledger WHERE order_hash = $1 AND taker = $2 FOR UPDATE`,
		orderHash.Hex(), taker.Hex(),
	).Scan(&currentStr)
	current := big.NewInt(0)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	if err == nil {
		var ok bool
		current, ok = new(big.Int).SetString(currentStr, 10)
		if !ok {
			return nil, false, errors.New("postgres: corrupt cumulative_amount value")
		}
	}

	candidate := new(big.Int).Add(current, delta)
	if candidate.Cmp(max) > 0 {
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return current, false, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO fill_ledger (order_hash, taker, cumulative_amount) VALUES ($1, $2, $3)
		 ON CONFLICT (order_hash, taker) DO UPDATE SET cumulative_amount = $3`,
		orderHash.Hex(), taker.Hex(), candidate.String(),
	); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return candidate, true, nil
}

func (r *Repository) HasSeenTransaction(ctx context.Context, transactionHash common.Hash) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM seen_transactions WHERE transaction_hash = $1)`,
		transactionHash.Hex(),
	).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertSeenTransaction(ctx context.Context, txn repository.SeenTransaction, approvals map[common.Hash]repository.FillApproval) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	sigs := make([]string, len(txn.Signatures))
	for i, s := range txn.Signatures {
		sigs[i] = common.Bytes2Hex(s)
	}
	sigsJSON, err := json.Marshal(sigs)
	if err != nil {
		return err
	}

	orderHashesHex := make([]string, len(txn.OrderHashes))
	for i, h := range txn.OrderHashes {
		orderHashesHex[i] = h.Hex()
	}
	orderHashesJSON, err := json.Marshal(orderHashesHex)
	if err != nil {
		return err
	}

	fillAmountsStr := make([]string, len(txn.FillAmounts))
	for i, a := range txn.FillAmounts {
		fillAmountsStr[i] = a.String()
	}
	fillAmountsJSON, err := json.Marshal(fillAmountsStr)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO seen_transactions
			(transaction_hash, tx_origin, signatures, expiration_time, signer_address, order_hashes, fill_amounts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (transaction_hash) DO NOTHING`,
		txn.TransactionHash.Hex(), txn.TxOrigin.Hex(), sigsJSON, txn.ExpirationTime.String(),
		txn.SignerAddress.Hex(), orderHashesJSON, fillAmountsJSON,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &repository.ErrTransactionExists{TransactionHash: txn.TransactionHash}
	}

	for orderHash, approval := range approvals {
		if _, err := tx.Exec(ctx,
			`INSERT INTO fill_approvals (order_hash, transaction_hash, approval_hash, signature, expiration_time)
			 VALUES ($1, $2, $3, $4, $5)`,
			orderHash.Hex(), approval.TransactionHash.Hex(), approval.ApprovalHash.Hex(),
			approval.Signature, approval.ExpirationTime.String(),
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repository) OutstandingApprovals(ctx context.Context, orderHash common.Hash) ([]repository.FillApproval, error) {
	return queryOutstandingApprovals(ctx, r.pool, orderHash)
}

// querier abstracts over *pgxpool.Pool and pgx.Tx, both of which expose
// Query with this signature.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func queryOutstandingApprovals(ctx context.Context, q querier, orderHash common.Hash) ([]repository.FillApproval, error) {
	rows, err := q.Query(ctx,
		`SELECT transaction_hash, approval_hash, signature, expiration_time FROM fill_approvals WHERE order_hash = $1`,
		orderHash.Hex(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []repository.FillApproval
	for rows.Next() {
		var (
			txHashHex, approvalHashHex, expirationStr string
			signature                                 []byte
		)
		if err := rows.Scan(&txHashHex, &approvalHashHex, &signature, &expirationStr); err != nil {
			return nil, err
		}
		expiration, ok := new(big.Int).SetString(expirationStr, 10)
		if !ok {
			return nil, errors.New("postgres: corrupt expiration_time value")
		}
		approvals = append(approvals, repository.FillApproval{
			TransactionHash: common.HexToHash(txHashHex),
			ApprovalHash:    common.HexToHash(approvalHashHex),
			Signature:       signature,
			ExpirationTime:  expiration,
		})
	}
	return approvals, rows.Err()
}
