package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

const orderColumns = `id, order_number, status, total_amount, items,
	payme_order_id, payme_transaction_id, payme_state,
	payme_create_time, payme_perform_time, payme_cancel_time,
	click_order_id, click_trans_id, click_paydoc_id, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByPaymeOrderID(ctx context.Context, paymeOrderID int64) (*models.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payme_order_id = $1`, paymeOrderID)
}

func (r *OrderRepository) GetByClickOrderID(ctx context.Context, clickOrderID int64) (*models.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE click_order_id = $1`, clickOrderID)
}

// TransitionStatus moves an order from one status to another and reports 0
// rows when the order was no longer in the expected status.
func (r *OrderRepository) TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, orderID, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OrderRepository) RecordPaymeTransaction(ctx context.Context, orderID int64, tx *models.PaymeTransaction) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payme_transaction_id = $1, payme_state = $2,
		    payme_create_time = $3, payme_perform_time = $4, payme_cancel_time = $5,
		    updated_at = NOW()
		WHERE id = $6
	`, tx.ID, tx.State, millisToTime(tx.CreateTime), millisToTime(tx.PerformTime), millisToTime(tx.CancelTime), orderID)
	return err
}

// ApplyClickCompletion writes the outcome of a Click complete. Only pending
// orders change, so a redelivered update affects 0 rows.
func (r *OrderRepository) ApplyClickCompletion(ctx context.Context, update models.StatusUpdate) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, click_trans_id = $2, click_paydoc_id = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, update.Status, update.ClickTransID, nullInt64(update.ClickPaydocID), update.OrderID, models.OrderPending)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OrderRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var (
		order                                  models.Order
		items                                  []byte
		paymeOrderID, clickOrderID             sql.NullInt64
		clickTransID, clickPaydocID            sql.NullInt64
		paymeTransactionID                     sql.NullString
		paymeState                             sql.NullInt32
		paymeCreate, paymePerform, paymeCancel sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&order.ID,
		&order.OrderNumber,
		&order.Status,
		&order.Total,
		&items,
		&paymeOrderID,
		&paymeTransactionID,
		&paymeState,
		&paymeCreate,
		&paymePerform,
		&paymeCancel,
		&clickOrderID,
		&clickTransID,
		&clickPaydocID,
		&order.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	order.Items = items
	order.PaymeOrderID = int64Ptr(paymeOrderID)
	order.ClickOrderID = int64Ptr(clickOrderID)
	order.ClickTransID = int64Ptr(clickTransID)
	order.ClickPaydocID = int64Ptr(clickPaydocID)
	if paymeTransactionID.Valid {
		order.PaymeTransactionID = &paymeTransactionID.String
	}
	if paymeState.Valid {
		state := int(paymeState.Int32)
		order.PaymeState = &state
	}
	order.PaymeCreateTime = timePtr(paymeCreate)
	order.PaymePerformTime = timePtr(paymePerform)
	order.PaymeCancelTime = timePtr(paymeCancel)

	return &order, nil
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	return &v.Time
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func millisToTime(ms int64) sql.NullTime {
	if ms == 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.UnixMilli(ms).UTC(), Valid: true}
}
