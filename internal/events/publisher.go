package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

const (
	PaymentChangedTopic = "order.payment.changed"
	OrderPaidSubject    = "orders.paid"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Broadcaster fans payment changes out to Kafka for every transition and to
// NATS for approvals, which fulfilment listens on.
type Broadcaster struct {
	writer MessageWriter
	nc     Publisher
}

func NewBroadcaster(writer MessageWriter, nc Publisher) *Broadcaster {
	return &Broadcaster{writer: writer, nc: nc}
}

func (b *Broadcaster) PaymentChanged(ctx context.Context, event models.PaymentChangedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	var errs []error
	if b.writer != nil {
		if err := b.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
			Value: payload,
		}); err != nil {
			errs = append(errs, fmt.Errorf("kafka %s: %w", PaymentChangedTopic, err))
		}
	}

	if b.nc != nil && event.Status == models.OrderApproved {
		if err := b.nc.Publish(OrderPaidSubject, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats %s: %w", OrderPaidSubject, err))
		}
	}

	telemetry.Logger.Debug("Payment event published",
		zap.Int64("order_id", event.OrderID),
		zap.String("gateway", event.Gateway),
		zap.String("status", string(event.Status)),
	)
	return errors.Join(errs...)
}
