// Package queue carries Click order updates that are applied after the gateway
// has already been answered. Updates are published to Kafka and consumed back
// with bounded retries; if Kafka refuses the publish the update is applied
// in-process instead.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

type Applier interface {
	ApplyStatusUpdate(ctx context.Context, update models.StatusUpdate) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Deferred struct {
	writer      MessageWriter
	applier     Applier
	maxAttempts int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	wg          sync.WaitGroup
}

func NewDeferred(writer MessageWriter, applier Applier, cfg config.QueueConfig) *Deferred {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Deferred{
		writer:      writer,
		applier:     applier,
		maxAttempts: maxAttempts,
		baseBackoff: cfg.BaseBackoff,
		sleep:       sleepContext,
	}
}

// Submit returns immediately; publishing happens on a background goroutine.
func (d *Deferred) Submit(ctx context.Context, update models.StatusUpdate) {
	if update.EventID == "" {
		update.EventID = uuid.NewString()
	}
	if update.CreatedAt.IsZero() {
		update.CreatedAt = time.Now()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.publish(ctx, update); err != nil {
			telemetry.Logger.Warn("Deferred update publish failed, applying in-process",
				zap.Int64("order_id", update.OrderID),
				zap.String("event_id", update.EventID),
				zap.Error(err),
			)
			telemetry.RecordDeferred("fallback")
			_ = d.apply(ctx, update)
			return
		}
		telemetry.RecordDeferred("enqueued")
	}()
}

// Wait blocks until every submitted update has been published or applied.
func (d *Deferred) Wait() {
	d.wg.Wait()
}

// Consume applies updates from the topic until ctx is cancelled. Offsets are
// committed after an update is applied or has exhausted its attempts.
func (d *Deferred) Consume(ctx context.Context, reader MessageReader) error {
	telemetry.Logger.Info("Started consuming deferred order updates")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			if err := d.sleep(ctx, d.baseBackoff); err != nil {
				return nil
			}
			continue
		}

		var update models.StatusUpdate
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			telemetry.Logger.Error("Error unmarshaling deferred update",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			telemetry.RecordDeferred("dead_letter")
		} else if err := d.apply(ctx, update); err != nil && ctx.Err() != nil {
			// Shutting down mid-retry: leave the offset uncommitted for redelivery.
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			telemetry.Logger.Error("Error committing deferred update offset",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
	}
}

func (d *Deferred) publish(ctx context.Context, update models.StatusUpdate) error {
	value, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(update.OrderID, 10)),
		Value: value,
	})
}

func (d *Deferred) apply(ctx context.Context, update models.StatusUpdate) error {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		update.Attempts = attempt
		if err = d.applier.ApplyStatusUpdate(ctx, update); err == nil {
			telemetry.RecordDeferred("applied")
			return nil
		}

		telemetry.Logger.Warn("Deferred update failed",
			zap.Int64("order_id", update.OrderID),
			zap.String("event_id", update.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == d.maxAttempts {
			break
		}
		telemetry.RecordDeferred("retried")
		if sleepErr := d.sleep(ctx, d.baseBackoff<<(attempt-1)); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}

	telemetry.RecordDeferred("dead_letter")
	telemetry.Logger.Error("Deferred update exhausted retries",
		zap.Int64("order_id", update.OrderID),
		zap.Int64("click_trans_id", update.ClickTransID),
		zap.String("status", string(update.Status)),
		zap.String("event_id", update.EventID),
		zap.Error(err),
	)
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
