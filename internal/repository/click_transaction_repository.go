package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

type ClickTransactionRepository struct {
	db *sql.DB
}

func NewClickTransactionRepository(db *sql.DB) *ClickTransactionRepository {
	return &ClickTransactionRepository{db: db}
}

// Prepare records a Click transaction, or returns the existing row when Click
// redelivers the same click_trans_id, so merchant_prepare_id stays stable.
func (r *ClickTransactionRepository) Prepare(ctx context.Context, tx *models.ClickTransaction) (*models.ClickTransaction, error) {
	var out models.ClickTransaction
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO click_transactions (click_trans_id, order_id, amount, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (click_trans_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, click_trans_id, order_id, amount, status, created_at, updated_at
	`, tx.ClickTransID, tx.OrderID, tx.Amount, tx.Status).Scan(
		&out.ID, &out.ClickTransID, &out.OrderID, &out.Amount, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ClickTransactionRepository) GetByID(ctx context.Context, id int64) (*models.ClickTransaction, error) {
	var out models.ClickTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, click_trans_id, order_id, amount, status, created_at, updated_at
		FROM click_transactions WHERE id = $1
	`, id).Scan(&out.ID, &out.ClickTransID, &out.OrderID, &out.Amount, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *ClickTransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.ClickTransactionStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE click_transactions SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	return err
}

// GetConfirmedByOrderID returns the confirmed Click transaction for an order.
// The order row only changes once the deferred update lands, so this is what
// tells a later payment attempt that the order is already paid.
func (r *ClickTransactionRepository) GetConfirmedByOrderID(ctx context.Context, orderID int64) (*models.ClickTransaction, error) {
	var out models.ClickTransaction
	err := r.db.QueryRowContext(ctx, `
		SELECT id, click_trans_id, order_id, amount, status, created_at, updated_at
		FROM click_transactions WHERE order_id = $1 AND status = $2
		ORDER BY id LIMIT 1
	`, orderID, models.ClickTxConfirmed).Scan(&out.ID, &out.ClickTransID, &out.OrderID, &out.Amount, &out.Status, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
