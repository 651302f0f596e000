package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/interfaces"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

// StatusApplier performs deferred Click order updates. It is safe to call
// repeatedly with the same update: only pending orders are changed.
type StatusApplier struct {
	orders interfaces.OrderRepository
	events interfaces.EventPublisher
}

func NewStatusApplier(orders interfaces.OrderRepository, events interfaces.EventPublisher) *StatusApplier {
	return &StatusApplier{orders: orders, events: events}
}

func (a *StatusApplier) ApplyStatusUpdate(ctx context.Context, update models.StatusUpdate) error {
	rows, err := a.orders.ApplyClickCompletion(ctx, update)
	if err != nil {
		return fmt.Errorf("apply click completion to order %d: %w", update.OrderID, err)
	}

	if rows == 0 {
		telemetry.Logger.Info("Deferred update skipped, order no longer pending",
			zap.Int64("order_id", update.OrderID),
			zap.Int64("click_trans_id", update.ClickTransID),
			zap.String("event_id", update.EventID),
		)
		return nil
	}

	telemetry.Logger.Info("Order payment state transition",
		zap.Int64("order_id", update.OrderID),
		zap.String("gateway", models.GatewayClick),
		zap.String("from_status", string(models.OrderPending)),
		zap.String("to_status", string(update.Status)),
		zap.Int64("click_trans_id", update.ClickTransID),
	)

	event := models.PaymentChangedEvent{
		EventID:        uuid.NewString(),
		OrderID:        update.OrderID,
		Gateway:        models.GatewayClick,
		TransactionID:  strconv.FormatInt(update.ClickTransID, 10),
		Status:         update.Status,
		PreviousStatus: models.OrderPending,
		Amount:         update.Amount,
		Timestamp:      time.Now(),
	}
	if err := a.events.PaymentChanged(ctx, event); err != nil {
		telemetry.Logger.Error("Failed to publish payment event",
			zap.Int64("order_id", update.OrderID),
			zap.Error(err),
		)
	}
	return nil
}
