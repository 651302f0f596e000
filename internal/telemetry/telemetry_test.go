package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCallback(t *testing.T) {
	before := testutil.ToFloat64(callbacksTotal.WithLabelValues("click", "prepare", "-2"))

	RecordCallback("click", "prepare", -2)
	RecordCallback("click", "prepare", -2)

	after := testutil.ToFloat64(callbacksTotal.WithLabelValues("click", "prepare", "-2"))
	assert.Equal(t, before+2, after)
}

func TestRecordDeferred(t *testing.T) {
	before := testutil.ToFloat64(deferredUpdatesTotal.WithLabelValues("dead_letter"))

	RecordDeferred("dead_letter")

	assert.Equal(t, before+1, testutil.ToFloat64(deferredUpdatesTotal.WithLabelValues("dead_letter")))
}

func TestTracingMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TracingMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "click-2154321")
	r.ServeHTTP(w, req)
	assert.Equal(t, "click-2154321", w.Header().Get("X-Request-ID"))
}
