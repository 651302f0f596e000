package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/interfaces"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/repository"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

const orderLockTTL = 30 * time.Second

func orderLockKey(orderID int64) string {
	return fmt.Sprintf("order_lock:%d", orderID)
}

// PaymeService implements the merchant side of Payme's JSON-RPC protocol on
// top of an explicit transaction ledger.
type PaymeService struct {
	orders   interfaces.OrderRepository
	txs      interfaces.PaymeTransactionRepository
	clickTxs interfaces.ClickTransactionRepository
	locker   interfaces.OrderLocker
	events   interfaces.EventPublisher
	cfg      config.PaymeConfig
	now      func() time.Time
}

func NewPaymeService(
	orders interfaces.OrderRepository,
	txs interfaces.PaymeTransactionRepository,
	clickTxs interfaces.ClickTransactionRepository,
	locker interfaces.OrderLocker,
	events interfaces.EventPublisher,
	cfg config.PaymeConfig,
) *PaymeService {
	return &PaymeService{
		orders:   orders,
		txs:      txs,
		clickTxs: clickTxs,
		locker:   locker,
		events:   events,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Dispatch routes a request to its method. Protocol rejections come back as
// *models.PaymeError; anything else is an internal failure.
func (s *PaymeService) Dispatch(ctx context.Context, req *models.PaymeRequest) (interface{}, error) {
	switch req.Method {
	case models.PaymeCheckPerformTransaction:
		return s.CheckPerformTransaction(ctx, req.Params)
	case models.PaymeCreateTransaction:
		return s.CreateTransaction(ctx, req.Params)
	case models.PaymePerformTransaction:
		return s.PerformTransaction(ctx, req.Params)
	case models.PaymeCancelTransaction:
		return s.CancelTransaction(ctx, req.Params)
	case models.PaymeCheckTransaction:
		return s.CheckTransaction(ctx, req.Params)
	case models.PaymeGetStatement:
		return s.GetStatement(ctx, req.Params)
	default:
		return nil, models.NewPaymeError(models.PaymeErrMethodNotFound, req.Method)
	}
}

func (s *PaymeService) CheckPerformTransaction(ctx context.Context, p models.PaymeParams) (*models.CheckPerformResult, error) {
	if _, err := s.payableOrder(ctx, p); err != nil {
		return nil, err
	}
	return &models.CheckPerformResult{Allow: true}, nil
}

func (s *PaymeService) CreateTransaction(ctx context.Context, p models.PaymeParams) (*models.CreateTransactionResult, error) {
	tx, err := s.txs.GetByID(ctx, p.ID)
	switch {
	case err == nil:
		return s.redeliveredCreate(ctx, tx)
	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("load payme transaction %s: %w", p.ID, err)
	}

	order, err := s.payableOrder(ctx, p)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := s.txs.GetActiveByOrderID(ctx, order.ID)
	if err == nil && active.ID != p.ID {
		return nil, models.NewPaymeError(models.PaymeErrOrderBusy, "account.order_id")
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("load active transaction for order %d: %w", order.ID, err)
	}

	now := s.now()
	if p.Time > 0 && now.UnixMilli()-p.Time > s.cfg.TransactionTimeout.Milliseconds() {
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "time")
	}

	created, err := s.txs.Create(ctx, &models.PaymeTransaction{
		ID:         p.ID,
		OrderID:    order.ID,
		Amount:     p.Amount,
		State:      models.PaymeStateCreated,
		PaymeTime:  p.Time,
		CreateTime: now.UnixMilli(),
	})
	if errors.Is(err, repository.ErrDuplicateTransaction) {
		// Lost a race with a redelivery of the same id; answer from the ledger.
		existing, getErr := s.txs.GetByID(ctx, p.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload payme transaction %s: %w", p.ID, getErr)
		}
		return s.existingCreate(ctx, existing)
	}
	if err != nil {
		return nil, fmt.Errorf("create payme transaction %s: %w", p.ID, err)
	}

	if err := s.orders.RecordPaymeTransaction(ctx, order.ID, created); err != nil {
		return nil, fmt.Errorf("record payme transaction on order %d: %w", order.ID, err)
	}

	telemetry.Logger.Info("Payme transaction created",
		zap.String("transaction_id", created.ID),
		zap.Int64("order_id", order.ID),
		zap.Int64("amount", created.Amount),
	)

	return &models.CreateTransactionResult{
		CreateTime:  created.CreateTime,
		Transaction: created.Transaction(),
		State:       created.State,
	}, nil
}

// redeliveredCreate answers a CreateTransaction for an id already in the
// ledger. The row is reloaded under the order lock since it may expire here.
func (s *PaymeService) redeliveredCreate(ctx context.Context, tx *models.PaymeTransaction) (*models.CreateTransactionResult, error) {
	release, err := s.lock(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.transaction(ctx, tx.ID)
	if err != nil {
		return nil, err
	}
	return s.existingCreate(ctx, current)
}

// existingCreate expects the caller to hold the order lock.
func (s *PaymeService) existingCreate(ctx context.Context, tx *models.PaymeTransaction) (*models.CreateTransactionResult, error) {
	if tx.State != models.PaymeStateCreated {
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "state")
	}
	if s.expired(tx) {
		current, err := s.expire(ctx, tx)
		if err != nil {
			return nil, err
		}
		if current != nil {
			return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "state")
		}
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "timeout")
	}
	return &models.CreateTransactionResult{
		CreateTime:  tx.CreateTime,
		Transaction: tx.Transaction(),
		State:       tx.State,
	}, nil
}

func (s *PaymeService) PerformTransaction(ctx context.Context, p models.PaymeParams) (*models.PerformTransactionResult, error) {
	tx, err := s.transaction(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	switch tx.State {
	case models.PaymeStatePerformed:
		return performResult(tx), nil
	case models.PaymeStateCreated:
	default:
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "state")
	}

	if s.expired(tx) {
		current, err := s.expire(ctx, tx)
		if err != nil {
			return nil, err
		}
		if current != nil && current.State == models.PaymeStatePerformed {
			return performResult(current), nil
		}
		if current != nil {
			return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "state")
		}
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "timeout")
	}

	paid, err := s.paidByClick(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "account.order_id")
	}

	performed := *tx
	performed.State = models.PaymeStatePerformed
	performed.PerformTime = s.now().UnixMilli()

	rows, err := s.txs.UpdateState(ctx, &performed, models.PaymeStateCreated)
	if err != nil {
		return nil, fmt.Errorf("perform payme transaction %s: %w", tx.ID, err)
	}
	if rows == 0 {
		current, err := s.transaction(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.State == models.PaymeStatePerformed {
			return performResult(current), nil
		}
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "state")
	}

	if err := s.applyOrderStatus(ctx, &performed, models.OrderPending, models.OrderApproved); err != nil {
		return nil, err
	}

	return performResult(&performed), nil
}

func (s *PaymeService) CancelTransaction(ctx context.Context, p models.PaymeParams) (*models.CancelTransactionResult, error) {
	tx, err := s.transaction(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, tx.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	if tx.Cancelled() {
		return cancelResult(tx), nil
	}

	cancelled := *tx
	cancelled.CancelTime = s.now().UnixMilli()
	cancelled.Reason = p.Reason
	from := models.OrderPending

	switch tx.State {
	case models.PaymeStateCreated:
		cancelled.State = models.PaymeStateCancelled
	case models.PaymeStatePerformed:
		order, err := s.orders.GetByID(ctx, tx.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load order %d: %w", tx.OrderID, err)
		}
		if order.Fulfilled() {
			return nil, models.NewPaymeError(models.PaymeErrCannotCancel, "order")
		}
		cancelled.State = models.PaymeStateCancelledAfterPerform
		from = models.OrderApproved
	default:
		return nil, models.NewPaymeError(models.PaymeErrCannotCancel, "state")
	}

	rows, err := s.txs.UpdateState(ctx, &cancelled, tx.State)
	if err != nil {
		return nil, fmt.Errorf("cancel payme transaction %s: %w", tx.ID, err)
	}
	if rows == 0 {
		current, err := s.transaction(ctx, tx.ID)
		if err != nil {
			return nil, err
		}
		if current.Cancelled() {
			return cancelResult(current), nil
		}
		return nil, models.NewPaymeError(models.PaymeErrCannotCancel, "state")
	}

	if err := s.applyOrderStatus(ctx, &cancelled, from, models.OrderRejected); err != nil {
		return nil, err
	}

	return cancelResult(&cancelled), nil
}

func (s *PaymeService) CheckTransaction(ctx context.Context, p models.PaymeParams) (*models.CheckTransactionResult, error) {
	tx, err := s.transaction(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &models.CheckTransactionResult{
		CreateTime:  tx.CreateTime,
		PerformTime: tx.PerformTime,
		CancelTime:  tx.CancelTime,
		Transaction: tx.Transaction(),
		State:       tx.State,
		Reason:      tx.Reason,
	}, nil
}

func (s *PaymeService) GetStatement(ctx context.Context, p models.PaymeParams) (*models.StatementResult, error) {
	txs, err := s.txs.ListByCreateTime(ctx, p.From, p.To)
	if err != nil {
		return nil, fmt.Errorf("list payme transactions: %w", err)
	}

	result := &models.StatementResult{Transactions: make([]models.StatementTransaction, 0, len(txs))}
	for _, tx := range txs {
		account := models.PaymeAccount{OrderID: models.FlexInt64(tx.OrderID)}
		if order, err := s.orders.GetByID(ctx, tx.OrderID); err == nil && order.PaymeOrderID != nil {
			account.OrderID = models.FlexInt64(*order.PaymeOrderID)
		}
		result.Transactions = append(result.Transactions, models.StatementTransaction{
			ID:          tx.ID,
			Time:        tx.PaymeTime,
			Amount:      tx.Amount,
			Account:     account,
			CreateTime:  tx.CreateTime,
			PerformTime: tx.PerformTime,
			CancelTime:  tx.CancelTime,
			Transaction: tx.Transaction(),
			State:       tx.State,
			Reason:      tx.Reason,
		})
	}
	return result, nil
}

// payableOrder runs the checks shared by CheckPerformTransaction and
// CreateTransaction and returns the order they refer to.
func (s *PaymeService) payableOrder(ctx context.Context, p models.PaymeParams) (*models.Order, error) {
	order, err := s.orders.GetByPaymeOrderID(ctx, int64(p.Account.OrderID))
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewPaymeError(models.PaymeErrOrderNotFound, "account.order_id")
	}
	if err != nil {
		return nil, fmt.Errorf("load order by payme id %d: %w", p.Account.OrderID, err)
	}

	switch order.Status {
	case models.OrderPending:
	case models.OrderApproved, models.OrderShipped, models.OrderDelivered:
		return nil, models.NewPaymeError(models.PaymeErrOrderAlreadyPaid, "account.order_id")
	default:
		return nil, models.NewPaymeError(models.PaymeErrCannotPerform, "account.order_id")
	}

	paid, err := s.paidByClick(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, models.NewPaymeError(models.PaymeErrOrderAlreadyPaid, "account.order_id")
	}

	if p.Amount != s.expectedAmount(order) {
		return nil, models.NewPaymeError(models.PaymeErrInvalidAmount, "amount")
	}
	return order, nil
}

// paidByClick reports whether Click has confirmed the order. The order row
// stays pending until the deferred Click update lands, so the ledger decides.
func (s *PaymeService) paidByClick(ctx context.Context, orderID int64) (bool, error) {
	_, err := s.clickTxs.GetConfirmedByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load confirmed click transaction for order %d: %w", orderID, err)
	}
	return true, nil
}

func (s *PaymeService) expectedAmount(order *models.Order) int64 {
	if s.cfg.AmountInTiyin {
		return order.Total * 100
	}
	return order.Total
}

func (s *PaymeService) transaction(ctx context.Context, id string) (*models.PaymeTransaction, error) {
	tx, err := s.txs.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewPaymeError(models.PaymeErrTxNotFound, "id")
	}
	if err != nil {
		return nil, fmt.Errorf("load payme transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *PaymeService) expired(tx *models.PaymeTransaction) bool {
	return s.now().UnixMilli()-tx.CreateTime > s.cfg.TransactionTimeout.Milliseconds()
}

// expire cancels a created transaction that outlived the Payme timeout. The
// order stays pending so the customer can pay again. When another delivery
// moved the transaction first, nothing is written and the stored row is
// returned instead.
func (s *PaymeService) expire(ctx context.Context, tx *models.PaymeTransaction) (*models.PaymeTransaction, error) {
	reason := models.PaymeReasonTimeout
	expired := *tx
	expired.State = models.PaymeStateCancelled
	expired.CancelTime = s.now().UnixMilli()
	expired.Reason = &reason

	rows, err := s.txs.UpdateState(ctx, &expired, models.PaymeStateCreated)
	if err != nil {
		return nil, fmt.Errorf("expire payme transaction %s: %w", tx.ID, err)
	}
	if rows == 0 {
		return s.transaction(ctx, tx.ID)
	}
	if err := s.orders.RecordPaymeTransaction(ctx, tx.OrderID, &expired); err != nil {
		return nil, fmt.Errorf("record expired transaction on order %d: %w", tx.OrderID, err)
	}

	telemetry.Logger.Info("Payme transaction expired",
		zap.String("transaction_id", tx.ID),
		zap.Int64("order_id", tx.OrderID),
	)
	return nil, nil
}

func (s *PaymeService) applyOrderStatus(ctx context.Context, tx *models.PaymeTransaction, from, to models.OrderStatus) error {
	rows, err := s.orders.TransitionStatus(ctx, tx.OrderID, from, to)
	if err != nil {
		return fmt.Errorf("transition order %d to %s: %w", tx.OrderID, to, err)
	}
	if err := s.orders.RecordPaymeTransaction(ctx, tx.OrderID, tx); err != nil {
		return fmt.Errorf("record payme transaction on order %d: %w", tx.OrderID, err)
	}

	if rows == 0 {
		telemetry.Logger.Warn("Order not in expected status, payment state recorded without status change",
			zap.Int64("order_id", tx.OrderID),
			zap.String("from_status", string(from)),
			zap.String("to_status", string(to)),
			zap.String("transaction_id", tx.ID),
		)
		return nil
	}

	telemetry.Logger.Info("Order payment state transition",
		zap.Int64("order_id", tx.OrderID),
		zap.String("gateway", models.GatewayPayme),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(to)),
		zap.String("transaction_id", tx.ID),
	)

	event := models.PaymentChangedEvent{
		EventID:        uuid.NewString(),
		OrderID:        tx.OrderID,
		Gateway:        models.GatewayPayme,
		TransactionID:  tx.ID,
		Status:         to,
		PreviousStatus: from,
		Amount:         tx.Amount,
		Timestamp:      s.now(),
	}
	if err := s.events.PaymentChanged(ctx, event); err != nil {
		telemetry.Logger.Error("Failed to publish payment event",
			zap.Int64("order_id", tx.OrderID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *PaymeService) lock(ctx context.Context, orderID int64) (func(), error) {
	release, ok, err := s.locker.Acquire(ctx, orderLockKey(orderID), orderLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for order %d: %w", orderID, err)
	}
	if !ok {
		return nil, models.NewPaymeError(models.PaymeErrOrderBusy, "account.order_id")
	}
	return release, nil
}

func performResult(tx *models.PaymeTransaction) *models.PerformTransactionResult {
	return &models.PerformTransactionResult{
		Transaction: tx.Transaction(),
		PerformTime: tx.PerformTime,
		State:       tx.State,
	}
}

func cancelResult(tx *models.PaymeTransaction) *models.CancelTransactionResult {
	return &models.CancelTransactionResult{
		Transaction: tx.Transaction(),
		CancelTime:  tx.CancelTime,
		State:       tx.State,
	}
}
