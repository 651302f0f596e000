// Package relay is the signature-checking front for Click callbacks. It
// verifies sign_string and forwards accepted requests to the callback
// service; it keeps no state of its own.
package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/clicksign"
	"github.com/akylbek/storefront/payment-callbacks/internal/config"
	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

type Server struct {
	click  config.ClickConfig
	cfg    config.RelayConfig
	client *http.Client
}

func NewServer(click config.ClickConfig, cfg config.RelayConfig) *Server {
	return &Server{
		click:  click,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"service":      "click-relay",
			"service_id":   s.click.ServiceID,
			"merchant_id":  s.click.MerchantID,
			"upstream_url": s.cfg.UpstreamURL,
			"timeout":      s.cfg.Timeout.String(),
		})
	})

	r.POST("/click/prepare", s.forward(models.ClickActionPrepare, models.ClickMethodPrepare))
	r.POST("/click/complete", s.forward(models.ClickActionComplete, models.ClickMethodComplete))

	return r
}

func (s *Server) forward(action int, method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ClickRequest
		if err := c.ShouldBind(&req); err != nil {
			telemetry.Logger.Error("Error decoding Click request", zap.Error(err))
			s.reject(c, &req, models.ClickErrBadRequest, "Invalid request")
			return
		}

		if req.Action.String() != strconv.Itoa(action) {
			s.reject(c, &req, models.ClickErrAction, "Action not found")
			return
		}

		if !clicksign.Verify(s.click.SecretKey, &req) {
			telemetry.Logger.Warn("Click signature mismatch",
				zap.String("click_trans_id", req.ClickTransID.String()),
				zap.String("merchant_trans_id", req.MerchantTransID.String()),
				zap.String("action", method),
			)
			s.reject(c, &req, models.ClickErrSignature, "SIGN CHECK FAILED!")
			return
		}

		req.Method = models.FlexString(method)

		start := time.Now()
		body, err := s.send(c, &req)
		if err != nil {
			telemetry.ObserveRelayForward("error", time.Since(start).Seconds())
			telemetry.Logger.Error("Error forwarding Click request",
				zap.String("click_trans_id", req.ClickTransID.String()),
				zap.String("upstream_url", s.cfg.UpstreamURL),
				zap.Error(err),
			)
			s.reject(c, &req, models.ClickErrInternal, "Internal error")
			return
		}
		telemetry.ObserveRelayForward("ok", time.Since(start).Seconds())

		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

func (s *Server) send(c *gin.Context, req *models.ClickRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ctx := c.Request.Context()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.UpstreamURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if requestID := c.GetHeader("X-Request-ID"); requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return body, nil
}

func (s *Server) reject(c *gin.Context, req *models.ClickRequest, code int, note string) {
	clickTransID, _ := req.ClickTransID.Int64()
	c.JSON(http.StatusOK, models.ClickResponse{
		ClickTransID:    clickTransID,
		MerchantTransID: req.MerchantTransID.String(),
		Error:           code,
		ErrorNote:       note,
	})
}
