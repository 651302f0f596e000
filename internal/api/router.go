package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/storefront/payment-callbacks/internal/handlers"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

type Handlers struct {
	Payme  *handlers.PaymeHandler
	Click  *handlers.ClickHandler
	Orders *handlers.OrderHandler
}

func NewRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-callbacks"})
	})

	// Gateway callbacks
	r.POST("/payme", h.Payme.Handle)
	r.POST("/click", h.Click.Handle)
	r.POST("/click/prepare", h.Click.Prepare)
	r.POST("/click/complete", h.Click.Complete)

	r.GET("/orders/:id/payment", h.Orders.GetPayment)

	return r
}
