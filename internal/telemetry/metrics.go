package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks handled, by gateway, method and protocol result code.",
	}, []string{"gateway", "method", "code"})

	deferredUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deferred_updates_total",
		Help: "Deferred order status writes, by result.",
	}, []string{"result"})

	relayForwardSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "click_relay_forward_seconds",
		Help:    "Latency of relay forwards to the Click callback handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)

func RecordCallback(gateway, method string, code int) {
	callbacksTotal.WithLabelValues(gateway, method, strconv.Itoa(code)).Inc()
}

// RecordDeferred counts deferred writes; result is one of
// enqueued, applied, retried, dead_letter, fallback.
func RecordDeferred(result string) {
	deferredUpdatesTotal.WithLabelValues(result).Inc()
}

func ObserveRelayForward(result string, seconds float64) {
	relayForwardSeconds.WithLabelValues(result).Observe(seconds)
}
