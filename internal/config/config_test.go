package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Payme.AmountInTiyin)
	assert.Equal(t, 12*time.Hour, cfg.Payme.TransactionTimeout)
	assert.Equal(t, 10*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, "click.complete.deferred", cfg.Queue.Topic)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("CLICK_SERVICE_ID", "41234")
	t.Setenv("CLICK_SECRET_KEY", "s3cr3t")
	t.Setenv("CLICK_VERIFY_SIGNATURE", "true")
	t.Setenv("PAYME_AMOUNT_IN_TIYIN", "false")
	t.Setenv("CLICK_UPSTREAM_TIMEOUT", "15")
	t.Setenv("PAYME_TRANSACTION_TIMEOUT", "30m")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, int64(41234), cfg.Click.ServiceID)
	assert.Equal(t, "s3cr3t", cfg.Click.SecretKey)
	assert.True(t, cfg.Click.VerifySignature)
	assert.False(t, cfg.Payme.AmountInTiyin)
	assert.Equal(t, 15*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Payme.TransactionTimeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CLICK_SERVICE_ID", "abc")
	t.Setenv("CLICK_UPSTREAM_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, int64(0), cfg.Click.ServiceID)
	assert.Equal(t, 10*time.Second, cfg.Relay.Timeout)
}
