package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

var paymeNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type paymeFixture struct {
	svc      *PaymeService
	orders   *memOrders
	txs      *memPaymeTxs
	clickTxs *memClickTxs
	events   *fakeEvents
	locker   *fakeLocker
}

func newPaymeFixture(status models.OrderStatus) *paymeFixture {
	f := &paymeFixture{
		orders: newMemOrders(&models.Order{
			ID:           1,
			OrderNumber:  "ORD-1",
			Status:       status,
			Total:        80000,
			PaymeOrderID: int64Ptr(5001),
		}),
		txs:      newMemPaymeTxs(),
		clickTxs: newMemClickTxs(),
		events:   &fakeEvents{},
		locker:   newFakeLocker(),
	}
	f.svc = NewPaymeService(f.orders, f.txs, f.clickTxs, f.locker, f.events, config.PaymeConfig{
		AmountInTiyin:      true,
		TransactionTimeout: 12 * time.Hour,
	})
	f.svc.now = func() time.Time { return paymeNow }
	return f
}

func createParams(id string) models.PaymeParams {
	return models.PaymeParams{
		ID:      id,
		Time:    paymeNow.UnixMilli(),
		Amount:  8000000,
		Account: models.PaymeAccount{OrderID: 5001},
	}
}

func requirePaymeCode(t *testing.T, err error, code int) {
	t.Helper()
	var perr *models.PaymeError
	require.True(t, errors.As(err, &perr), "expected PaymeError, got %v", err)
	assert.Equal(t, code, perr.Code)
}

func TestCheckPerformTransaction(t *testing.T) {
	tests := []struct {
		name   string
		status models.OrderStatus
		params models.PaymeParams
		code   int
	}{
		{"pending order", models.OrderPending, createParams(""), 0},
		{"already approved", models.OrderApproved, createParams(""), models.PaymeErrOrderAlreadyPaid},
		{"already shipped", models.OrderShipped, createParams(""), models.PaymeErrOrderAlreadyPaid},
		{"rejected order", models.OrderRejected, createParams(""), models.PaymeErrCannotPerform},
		{"unknown order", models.OrderPending, models.PaymeParams{Amount: 8000000, Account: models.PaymeAccount{OrderID: 9}}, models.PaymeErrOrderNotFound},
		{"wrong amount", models.OrderPending, models.PaymeParams{Amount: 80000, Account: models.PaymeAccount{OrderID: 5001}}, models.PaymeErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPaymeFixture(tt.status)

			result, err := f.svc.CheckPerformTransaction(context.Background(), tt.params)

			if tt.code == 0 {
				require.NoError(t, err)
				assert.True(t, result.Allow)
				return
			}
			requirePaymeCode(t, err, tt.code)
		})
	}
}

func TestCreateTransaction_IdempotentRedelivery(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	first, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)
	assert.Equal(t, models.PaymeStateCreated, first.State)
	assert.Equal(t, paymeNow.UnixMilli(), first.CreateTime)

	second, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Len(t, f.txs.txs, 1)
	order := f.orders.get(1)
	require.NotNil(t, order.PaymeTransactionID)
	assert.Equal(t, "pm-1", *order.PaymeTransactionID)
	assert.Equal(t, models.OrderPending, order.Status)
}

func TestCreateTransaction_OrderBusyWithAnotherTransaction(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	_, err = f.svc.CreateTransaction(ctx, createParams("pm-2"))
	requirePaymeCode(t, err, models.PaymeErrOrderBusy)
}

func TestCreateTransaction_StaleRequestTime(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	params := createParams("pm-1")
	params.Time = paymeNow.Add(-13 * time.Hour).UnixMilli()

	_, err := f.svc.CreateTransaction(context.Background(), params)

	requirePaymeCode(t, err, models.PaymeErrCannotPerform)
	assert.Empty(t, f.txs.txs)
}

func TestPerformTransaction_ApprovesOnce(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	created, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	performed, err := f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymeStatePerformed, performed.State)
	assert.Equal(t, created.Transaction, performed.Transaction)
	assert.Equal(t, paymeNow.UnixMilli(), performed.PerformTime)

	again, err := f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)
	assert.Equal(t, performed, again)

	assert.Equal(t, models.OrderApproved, f.orders.get(1).Status)
	require.Len(t, f.events.events, 1)
	assert.Equal(t, models.GatewayPayme, f.events.events[0].Gateway)
	assert.Equal(t, models.OrderApproved, f.events.events[0].Status)
}

func TestPerformTransaction_Expired(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	f.svc.now = func() time.Time { return paymeNow.Add(13 * time.Hour) }

	_, err = f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	requirePaymeCode(t, err, models.PaymeErrCannotPerform)

	tx := f.txs.txs["pm-1"]
	assert.Equal(t, models.PaymeStateCancelled, tx.State)
	require.NotNil(t, tx.Reason)
	assert.Equal(t, models.PaymeReasonTimeout, *tx.Reason)
	assert.Equal(t, models.OrderPending, f.orders.get(1).Status)
	assert.Empty(t, f.events.events)
}

// staleOnceTxs hands out a stale copy of a transaction on the first lookup,
// as if another delivery changed the row right after it was read.
type staleOnceTxs struct {
	*memPaymeTxs
	stale *models.PaymeTransaction
}

func (s *staleOnceTxs) GetByID(ctx context.Context, id string) (*models.PaymeTransaction, error) {
	if s.stale != nil {
		tx := s.stale
		s.stale = nil
		return tx, nil
	}
	return s.memPaymeTxs.GetByID(ctx, id)
}

func TestPerformTransaction_ExpiryLosesRaceToPerform(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)
	_, err = f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)

	stale := *f.txs.txs["pm-1"]
	stale.State = models.PaymeStateCreated
	stale.PerformTime = 0
	f.svc.txs = &staleOnceTxs{memPaymeTxs: f.txs, stale: &stale}
	f.svc.now = func() time.Time { return paymeNow.Add(13 * time.Hour) }

	result, err := f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PaymeStatePerformed, result.State)
	assert.Equal(t, paymeNow.UnixMilli(), result.PerformTime)

	assert.Equal(t, models.PaymeStatePerformed, f.txs.txs["pm-1"].State)
	order := f.orders.get(1)
	require.NotNil(t, order.PaymeState)
	assert.Equal(t, models.PaymeStatePerformed, *order.PaymeState)
}

func TestCreateTransaction_RedeliveryTakesOrderLock(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	release, ok, err := f.locker.Acquire(ctx, orderLockKey(1), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	f.svc.now = func() time.Time { return paymeNow.Add(13 * time.Hour) }

	_, err = f.svc.CreateTransaction(ctx, createParams("pm-1"))
	requirePaymeCode(t, err, models.PaymeErrOrderBusy)
	assert.Equal(t, models.PaymeStateCreated, f.txs.txs["pm-1"].State)
}

func TestPerformTransaction_UnknownTransaction(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)

	_, err := f.svc.PerformTransaction(context.Background(), models.PaymeParams{ID: "missing"})

	requirePaymeCode(t, err, models.PaymeErrTxNotFound)
}

func TestPerformTransaction_OrderLocked(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	release, ok, err := f.locker.Acquire(ctx, orderLockKey(1), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	requirePaymeCode(t, err, models.PaymeErrOrderBusy)
}

func TestCancelTransaction_Created(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()
	reason := 3

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	cancelled, err := f.svc.CancelTransaction(ctx, models.PaymeParams{ID: "pm-1", Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.PaymeStateCancelled, cancelled.State)

	again, err := f.svc.CancelTransaction(ctx, models.PaymeParams{ID: "pm-1", Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, cancelled, again)

	assert.Equal(t, models.OrderRejected, f.orders.get(1).Status)
	assert.Len(t, f.events.events, 1)
}

func TestCancelTransaction_AfterPerform(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()
	reason := 5

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)
	_, err = f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)

	cancelled, err := f.svc.CancelTransaction(ctx, models.PaymeParams{ID: "pm-1", Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.PaymeStateCancelledAfterPerform, cancelled.State)

	assert.Equal(t, models.OrderRejected, f.orders.get(1).Status)
	require.Len(t, f.events.events, 2)
	assert.Equal(t, models.OrderApproved, f.events.events[1].PreviousStatus)
}

func TestCancelTransaction_FulfilledOrder(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)
	_, err = f.svc.PerformTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)

	f.orders.orders[1].Status = models.OrderShipped

	_, err = f.svc.CancelTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	requirePaymeCode(t, err, models.PaymeErrCannotCancel)
	assert.Equal(t, models.PaymeStatePerformed, f.txs.txs["pm-1"].State)
}

func TestCheckTransaction(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	created, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	result, err := f.svc.CheckTransaction(ctx, models.PaymeParams{ID: "pm-1"})
	require.NoError(t, err)
	assert.Equal(t, created.Transaction, result.Transaction)
	assert.Equal(t, models.PaymeStateCreated, result.State)
	assert.Nil(t, result.Reason)

	_, err = f.svc.CheckTransaction(ctx, models.PaymeParams{ID: "missing"})
	requirePaymeCode(t, err, models.PaymeErrTxNotFound)
}

func TestGetStatement(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)
	ctx := context.Background()

	_, err := f.svc.CreateTransaction(ctx, createParams("pm-1"))
	require.NoError(t, err)

	result, err := f.svc.GetStatement(ctx, models.PaymeParams{
		From: paymeNow.Add(-time.Hour).UnixMilli(),
		To:   paymeNow.Add(time.Hour).UnixMilli(),
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, "pm-1", result.Transactions[0].ID)
	assert.Equal(t, models.FlexInt64(5001), result.Transactions[0].Account.OrderID)

	empty, err := f.svc.GetStatement(ctx, models.PaymeParams{From: 0, To: 1})
	require.NoError(t, err)
	assert.NotNil(t, empty.Transactions)
	assert.Empty(t, empty.Transactions)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	f := newPaymeFixture(models.OrderPending)

	_, err := f.svc.Dispatch(context.Background(), &models.PaymeRequest{Method: "ChangePassword"})

	requirePaymeCode(t, err, models.PaymeErrMethodNotFound)
}
