package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/relay"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

func main() {
	cfg := config.Load()

	if err := telemetry.InitTelemetry("click-relay", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	if cfg.Click.SecretKey == "" {
		telemetry.Logger.Fatal("CLICK_SECRET_KEY is required")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Relay.Port,
		Handler: relay.NewServer(cfg.Click, cfg.Relay).Router(),
	}

	go func() {
		telemetry.Logger.Info("Click relay starting",
			zap.String("port", cfg.Relay.Port),
			zap.String("upstream_url", cfg.Relay.UpstreamURL),
			zap.Duration("timeout", cfg.Relay.Timeout),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down relay...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Relay forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Relay exited")
}
