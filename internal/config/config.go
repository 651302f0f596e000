package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string

	Payme PaymeConfig
	Click ClickConfig
	Relay RelayConfig
	Queue QueueConfig
}

type PaymeConfig struct {
	Key string
	// AmountInTiyin means Payme amounts are compared against order total * 100.
	AmountInTiyin      bool
	TransactionTimeout time.Duration
}

type ClickConfig struct {
	ServiceID  int64
	MerchantID string
	SecretKey  string
	// VerifySignature enables sign_string checks in the callback handler itself,
	// for deployments that receive Click traffic without the relay in front.
	VerifySignature bool
}

type RelayConfig struct {
	Port        string
	UpstreamURL string
	Timeout     time.Duration
}

type QueueConfig struct {
	Topic       string
	GroupID     string
	MaxAttempts int
	BaseBackoff time.Duration
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "localhost:6379"),
		KafkaBrokers:   getEnv("KAFKA_BROKERS", "localhost:9092"),
		NatsURL:        getEnv("NATS_URL", "nats://localhost:4222"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		Payme: PaymeConfig{
			Key:                os.Getenv("PAYME_KEY"),
			AmountInTiyin:      getEnvBool("PAYME_AMOUNT_IN_TIYIN", true),
			TransactionTimeout: getEnvDuration("PAYME_TRANSACTION_TIMEOUT", 12*time.Hour),
		},
		Click: ClickConfig{
			ServiceID:       getEnvInt64("CLICK_SERVICE_ID", 0),
			MerchantID:      os.Getenv("CLICK_MERCHANT_ID"),
			SecretKey:       os.Getenv("CLICK_SECRET_KEY"),
			VerifySignature: getEnvBool("CLICK_VERIFY_SIGNATURE", false),
		},
		Relay: RelayConfig{
			Port:        getEnv("RELAY_PORT", "3001"),
			UpstreamURL: getEnv("CLICK_UPSTREAM_URL", "http://localhost:8080/click"),
			Timeout:     getEnvDuration("CLICK_UPSTREAM_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			Topic:       getEnv("DEFERRED_TOPIC", "click.complete.deferred"),
			GroupID:     getEnv("DEFERRED_GROUP_ID", "payment-callbacks"),
			MaxAttempts: int(getEnvInt64("DEFERRED_MAX_ATTEMPTS", 5)),
			BaseBackoff: getEnvDuration("DEFERRED_BASE_BACKOFF", 500*time.Millisecond),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or bare seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
