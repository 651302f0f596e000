package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/clicksign"
	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/interfaces"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

// CompleteResult carries the response for Click together with the order
// update that must be applied only after the response has been written.
type CompleteResult struct {
	Response *models.ClickResponse
	Update   *models.StatusUpdate
}

type ClickService struct {
	orders   interfaces.OrderRepository
	txs      interfaces.ClickTransactionRepository
	locker   interfaces.OrderLocker
	deferred interfaces.DeferredQueue
	cfg      config.ClickConfig
	now      func() time.Time
}

func NewClickService(
	orders interfaces.OrderRepository,
	txs interfaces.ClickTransactionRepository,
	locker interfaces.OrderLocker,
	deferred interfaces.DeferredQueue,
	cfg config.ClickConfig,
) *ClickService {
	return &ClickService{
		orders:   orders,
		txs:      txs,
		locker:   locker,
		deferred: deferred,
		cfg:      cfg,
		now:      time.Now,
	}
}

// clickCall is a validated request with its numeric fields parsed.
type clickCall struct {
	clickTransID int64
	paydocID     int64
	order        *models.Order
	amount       int64
}

func (s *ClickService) Prepare(ctx context.Context, req *models.ClickRequest) (*models.ClickResponse, error) {
	call, resp, err := s.validate(ctx, req, models.ClickActionPrepare)
	if resp != nil || err != nil {
		return resp, err
	}

	order := call.order
	switch {
	case order.Status == models.OrderRejected:
		return s.reject(req, models.ClickErrInternal, "Transaction cancelled"), nil
	case order.Status != models.OrderPending:
		return s.reject(req, models.ClickErrAlreadyPaid, "Already paid"), nil
	}
	paid, err := s.paidByAnother(ctx, order.ID, call.clickTransID)
	if err != nil {
		return nil, err
	}
	if paid {
		return s.reject(req, models.ClickErrAlreadyPaid, "Already paid"), nil
	}

	tx, err := s.txs.Prepare(ctx, &models.ClickTransaction{
		ClickTransID: call.clickTransID,
		OrderID:      order.ID,
		Amount:       call.amount,
		Status:       models.ClickTxPrepared,
	})
	if err != nil {
		return nil, fmt.Errorf("prepare click transaction %d: %w", call.clickTransID, err)
	}
	if tx.OrderID != order.ID {
		return s.reject(req, models.ClickErrBadRequest, "click_trans_id belongs to another order"), nil
	}
	if tx.Status == models.ClickTxCancelled {
		return s.reject(req, models.ClickErrInternal, "Transaction cancelled"), nil
	}

	telemetry.Logger.Info("Click transaction prepared",
		zap.Int64("click_trans_id", call.clickTransID),
		zap.Int64("order_id", order.ID),
		zap.Int64("merchant_prepare_id", tx.ID),
	)

	return &models.ClickResponse{
		ClickTransID:      call.clickTransID,
		MerchantTransID:   req.MerchantTransID.String(),
		MerchantPrepareID: tx.ID,
		Error:             models.ClickSuccess,
		ErrorNote:         "Success",
	}, nil
}

// Complete validates a complete callback and decides the order outcome. The
// order itself is not written here; see Defer.
func (s *ClickService) Complete(ctx context.Context, req *models.ClickRequest) (*CompleteResult, error) {
	call, resp, err := s.validate(ctx, req, models.ClickActionComplete)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return &CompleteResult{Response: resp}, nil
	}

	order := call.order
	prepareID, err := req.MerchantPrepareID.Int64()
	if err != nil {
		return &CompleteResult{Response: s.reject(req, models.ClickErrTxNotFound, "Transaction does not exist")}, nil
	}

	release, ok, err := s.locker.Acquire(ctx, orderLockKey(order.ID), orderLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire lock for order %d: %w", order.ID, err)
	}
	if !ok {
		return &CompleteResult{Response: s.reject(req, models.ClickErrInternal, "Order is being processed")}, nil
	}
	defer release()

	tx, err := s.txs.GetByID(ctx, prepareID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && (tx.ClickTransID != call.clickTransID || tx.OrderID != order.ID)) {
		return &CompleteResult{Response: s.reject(req, models.ClickErrTxNotFound, "Transaction does not exist")}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load click transaction %d: %w", prepareID, err)
	}

	confirmed := &models.ClickResponse{
		ClickTransID:      call.clickTransID,
		MerchantTransID:   req.MerchantTransID.String(),
		MerchantConfirmID: tx.ID,
		Error:             models.ClickSuccess,
		ErrorNote:         "Success",
	}

	// Redelivery of a complete we already accepted: answer the same way and
	// do not hand the order update over a second time.
	if order.PaidViaClick() && *order.ClickTransID == call.clickTransID {
		return &CompleteResult{Response: confirmed}, nil
	}
	switch tx.Status {
	case models.ClickTxConfirmed:
		return &CompleteResult{Response: confirmed}, nil
	case models.ClickTxCancelled:
		return &CompleteResult{Response: s.reject(req, models.ClickErrInternal, "Transaction cancelled")}, nil
	}
	if order.Status != models.OrderPending {
		return &CompleteResult{Response: s.reject(req, models.ClickErrAlreadyPaid, "Already paid")}, nil
	}
	paid, err := s.paidByAnother(ctx, order.ID, call.clickTransID)
	if err != nil {
		return nil, err
	}
	if paid {
		return &CompleteResult{Response: s.reject(req, models.ClickErrAlreadyPaid, "Already paid")}, nil
	}

	update := &models.StatusUpdate{
		OrderID:       order.ID,
		ClickTransID:  call.clickTransID,
		ClickPaydocID: call.paydocID,
		Amount:        call.amount,
		CreatedAt:     s.now(),
	}

	if gatewayErr := req.GatewayError(); gatewayErr < 0 {
		if err := s.txs.UpdateStatus(ctx, tx.ID, models.ClickTxCancelled); err != nil {
			return nil, fmt.Errorf("cancel click transaction %d: %w", tx.ID, err)
		}
		update.Status = models.OrderRejected

		telemetry.Logger.Info("Click reported payment failure",
			zap.Int64("click_trans_id", call.clickTransID),
			zap.Int64("order_id", order.ID),
			zap.Int("click_error", gatewayErr),
			zap.String("click_error_note", req.ErrorNote.String()),
		)
		return &CompleteResult{
			Response: s.reject(req, models.ClickErrInternal, "Transaction cancelled"),
			Update:   update,
		}, nil
	}

	if err := s.txs.UpdateStatus(ctx, tx.ID, models.ClickTxConfirmed); err != nil {
		return nil, fmt.Errorf("confirm click transaction %d: %w", tx.ID, err)
	}
	update.Status = models.OrderApproved

	telemetry.Logger.Info("Click transaction confirmed",
		zap.Int64("click_trans_id", call.clickTransID),
		zap.Int64("order_id", order.ID),
		zap.Int64("merchant_confirm_id", tx.ID),
	)

	return &CompleteResult{Response: confirmed, Update: update}, nil
}

// Defer hands an order update to the deferred queue. Callers invoke it after
// the gateway response is on the wire; the write is detached from ctx's
// cancellation so it outlives the request.
func (s *ClickService) Defer(ctx context.Context, update models.StatusUpdate) {
	s.deferred.Submit(context.WithoutCancel(ctx), update)
}

// paidByAnother reports whether a different click_trans_id has already
// confirmed the order. The order row stays pending until the deferred update
// lands, so the ledger is checked instead.
func (s *ClickService) paidByAnother(ctx context.Context, orderID, clickTransID int64) (bool, error) {
	confirmed, err := s.txs.GetConfirmedByOrderID(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load confirmed click transaction for order %d: %w", orderID, err)
	}
	return confirmed.ClickTransID != clickTransID, nil
}

// validate parses and checks the fields shared by prepare and complete. It
// returns a ready rejection response when the request must be refused.
func (s *ClickService) validate(ctx context.Context, req *models.ClickRequest, action int) (*clickCall, *models.ClickResponse, error) {
	clickTransID, err := req.ClickTransID.Int64()
	if err != nil {
		return nil, s.reject(req, models.ClickErrBadRequest, "Invalid click_trans_id"), nil
	}

	if s.cfg.VerifySignature && !clicksign.Verify(s.cfg.SecretKey, req) {
		return nil, s.reject(req, models.ClickErrSignature, "SIGN CHECK FAILED!"), nil
	}

	if req.Action.String() != strconv.Itoa(action) {
		return nil, s.reject(req, models.ClickErrAction, "Action not found"), nil
	}

	serviceID, err := req.ServiceID.Int64()
	if err != nil || serviceID != s.cfg.ServiceID {
		return nil, s.reject(req, models.ClickErrBadRequest, "Invalid service_id"), nil
	}

	merchantOrderID, err := req.MerchantTransID.Int64()
	if err != nil {
		return nil, s.reject(req, models.ClickErrOrderNotFound, "Order not found"), nil
	}

	order, err := s.orders.GetByClickOrderID(ctx, merchantOrderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, s.reject(req, models.ClickErrOrderNotFound, "Order not found"), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load order by click id %d: %w", merchantOrderID, err)
	}

	amount, err := req.AmountSum()
	if err != nil {
		return nil, s.reject(req, models.ClickErrAmount, "Incorrect parameter amount"), nil
	}
	if amount != order.Total {
		return nil, s.reject(req, models.ClickErrAmount,
			fmt.Sprintf("Incorrect parameter amount: expected %d, got %d", order.Total, amount)), nil
	}

	paydocID, _ := req.ClickPaydocID.Int64()

	return &clickCall{
		clickTransID: clickTransID,
		paydocID:     paydocID,
		order:        order,
		amount:       amount,
	}, nil, nil
}

func (s *ClickService) reject(req *models.ClickRequest, code int, note string) *models.ClickResponse {
	clickTransID, _ := req.ClickTransID.Int64()
	return &models.ClickResponse{
		ClickTransID:    clickTransID,
		MerchantTransID: req.MerchantTransID.String(),
		Error:           code,
		ErrorNote:       note,
	}
}

// InternalError is the response sent when a callback fails for reasons Click
// cannot act on.
func InternalError(req *models.ClickRequest) *models.ClickResponse {
	clickTransID, _ := req.ClickTransID.Int64()
	return &models.ClickResponse{
		ClickTransID:    clickTransID,
		MerchantTransID: req.MerchantTransID.String(),
		Error:           models.ClickErrInternal,
		ErrorNote:       "Internal error",
	}
}
