package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/api"
	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/events"
	"github.com/akylbek/storefront/payment-callbacks/internal/handlers"
	"github.com/akylbek/storefront/payment-callbacks/internal/queue"
	"github.com/akylbek/storefront/payment-callbacks/internal/repository"
	"github.com/akylbek/storefront/payment-callbacks/internal/service"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("payment-callbacks", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Payment Callbacks")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitSchema(context.Background(), db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	orderRepo := repository.NewOrderRepository(db)
	paymeRepo := repository.NewPaymeTransactionRepository(db)
	clickRepo := repository.NewClickTransactionRepository(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})
	defer redisClient.Close()
	locker := repository.NewRedisLocker(redisClient)

	// Connect to NATS
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	// Connect to Kafka
	brokers := strings.Split(cfg.KafkaBrokers, ",")

	eventWriter := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    events.PaymentChangedTopic,
		Balancer: &kafka.Hash{},
	}
	defer eventWriter.Close()

	deferredWriter := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Queue.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer deferredWriter.Close()

	deferredReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.Queue.Topic,
		GroupID:  cfg.Queue.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer deferredReader.Close()

	publisher := events.NewBroadcaster(eventWriter, nc)

	// Deferred Click order updates
	applier := service.NewStatusApplier(orderRepo, publisher)
	deferred := queue.NewDeferred(deferredWriter, applier, cfg.Queue)

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := deferred.Consume(consumeCtx, deferredReader); err != nil {
			telemetry.Logger.Error("Deferred consumer stopped", zap.Error(err))
		}
	}()

	// Initialize services and handlers
	paymeService := service.NewPaymeService(orderRepo, paymeRepo, clickRepo, locker, publisher, cfg.Payme)
	clickService := service.NewClickService(orderRepo, clickRepo, locker, deferred, cfg.Click)

	r := api.NewRouter(api.Handlers{
		Payme:  handlers.NewPaymeHandler(paymeService, cfg.Payme.Key),
		Click:  handlers.NewClickHandler(clickService),
		Orders: handlers.NewOrderHandler(orderRepo),
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Payment Callbacks starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Updates accepted before shutdown still get published or applied.
	deferred.Wait()
	stopConsuming()
	<-consumerDone

	telemetry.Logger.Info("Server exited")
}
