package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

// ErrDuplicateTransaction is returned by Create when the Payme id is already in the ledger.
var ErrDuplicateTransaction = errors.New("payme transaction already exists")

const paymeTxColumns = `ledger_id, id, order_id, amount, state, reason,
	payme_time, create_time, perform_time, cancel_time`

type PaymeTransactionRepository struct {
	db *sql.DB
}

func NewPaymeTransactionRepository(db *sql.DB) *PaymeTransactionRepository {
	return &PaymeTransactionRepository{db: db}
}

func (r *PaymeTransactionRepository) Create(ctx context.Context, tx *models.PaymeTransaction) (*models.PaymeTransaction, error) {
	created := *tx
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO payme_transactions (id, order_id, amount, state, reason, payme_time, create_time, perform_time, cancel_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ledger_id
	`, tx.ID, tx.OrderID, tx.Amount, tx.State, nullInt(tx.Reason), tx.PaymeTime, tx.CreateTime, tx.PerformTime, tx.CancelTime,
	).Scan(&created.LedgerID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrDuplicateTransaction
		}
		return nil, err
	}
	return &created, nil
}

func (r *PaymeTransactionRepository) GetByID(ctx context.Context, id string) (*models.PaymeTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymeTxColumns+` FROM payme_transactions WHERE id = $1`, id)
	return scanPaymeTx(row)
}

func (r *PaymeTransactionRepository) GetActiveByOrderID(ctx context.Context, orderID int64) (*models.PaymeTransaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+paymeTxColumns+` FROM payme_transactions
		WHERE order_id = $1 AND state = $2
		ORDER BY create_time DESC LIMIT 1
	`, orderID, models.PaymeStateCreated)
	return scanPaymeTx(row)
}

// UpdateState persists state, reason and timestamps only if the stored state
// still equals fromState.
func (r *PaymeTransactionRepository) UpdateState(ctx context.Context, tx *models.PaymeTransaction, fromState int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payme_transactions
		SET state = $1, reason = $2, perform_time = $3, cancel_time = $4
		WHERE id = $5 AND state = $6
	`, tx.State, nullInt(tx.Reason), tx.PerformTime, tx.CancelTime, tx.ID, fromState)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *PaymeTransactionRepository) ListByCreateTime(ctx context.Context, from, to int64) ([]*models.PaymeTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymeTxColumns+` FROM payme_transactions
		WHERE create_time >= $1 AND create_time <= $2
		ORDER BY create_time
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*models.PaymeTransaction
	for rows.Next() {
		tx, err := scanPaymeTx(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPaymeTx(row rowScanner) (*models.PaymeTransaction, error) {
	var (
		tx     models.PaymeTransaction
		reason sql.NullInt32
	)
	err := row.Scan(&tx.LedgerID, &tx.ID, &tx.OrderID, &tx.Amount, &tx.State, &reason,
		&tx.PaymeTime, &tx.CreateTime, &tx.PerformTime, &tx.CancelTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		r := int(reason.Int32)
		tx.Reason = &r
	}
	return &tx, nil
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}
