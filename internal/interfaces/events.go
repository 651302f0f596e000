package interfaces

import (
	"context"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

// EventPublisher announces order payment-state changes to downstream consumers.
type EventPublisher interface {
	PaymentChanged(ctx context.Context, event models.PaymentChangedEvent) error
}

// DeferredQueue accepts order-status writes that must not block the gateway response.
type DeferredQueue interface {
	Submit(ctx context.Context, update models.StatusUpdate)
}
