package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

const paymeLogin = "Paycom"

type PaymeDispatcher interface {
	Dispatch(ctx context.Context, req *models.PaymeRequest) (interface{}, error)
}

type PaymeHandler struct {
	svc        PaymeDispatcher
	authHeader string
}

func NewPaymeHandler(svc PaymeDispatcher, key string) *PaymeHandler {
	return &PaymeHandler{
		svc:        svc,
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(paymeLogin+":"+key)),
	}
}

// Handle serves the Payme JSON-RPC endpoint. Every outcome, including
// authorization failures, is a JSON-RPC response with HTTP 200.
func (h *PaymeHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.fail(c, nil, "", models.NewPaymeError(models.PaymeErrParse, "unreadable body"))
		return
	}

	var req models.PaymeRequest
	parseErr := json.Unmarshal(body, &req)

	if !h.authorized(c.GetHeader("Authorization")) {
		telemetry.Logger.Warn("Payme callback with invalid credentials",
			zap.String("method", req.Method),
			zap.String("client_ip", c.ClientIP()),
		)
		h.fail(c, req.ID, req.Method, models.NewPaymeError(models.PaymeErrInsufficientAccess, ""))
		return
	}

	if parseErr != nil {
		telemetry.Logger.Error("Error decoding Payme request", zap.Error(parseErr))
		h.fail(c, req.ID, req.Method, models.NewPaymeError(models.PaymeErrParse, ""))
		return
	}

	result, err := h.svc.Dispatch(c.Request.Context(), &req)
	if err != nil {
		var perr *models.PaymeError
		if !errors.As(err, &perr) {
			telemetry.Logger.Error("Error processing Payme request",
				zap.String("method", req.Method),
				zap.Int64("order_id", int64(req.Params.Account.OrderID)),
				zap.String("transaction_id", req.Params.ID),
				zap.Error(err),
			)
			perr = models.NewPaymeError(models.PaymeErrSystem, "")
		}
		h.fail(c, req.ID, req.Method, perr)
		return
	}

	telemetry.RecordCallback(models.GatewayPayme, methodLabel(req.Method), 0)
	c.JSON(http.StatusOK, models.PaymeResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

func (h *PaymeHandler) authorized(header string) bool {
	return subtle.ConstantTimeCompare([]byte(header), []byte(h.authHeader)) == 1
}

func (h *PaymeHandler) fail(c *gin.Context, id json.RawMessage, method string, perr *models.PaymeError) {
	telemetry.RecordCallback(models.GatewayPayme, methodLabel(method), perr.Code)
	c.JSON(http.StatusOK, models.PaymeResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   perr,
	})
}

// methodLabel keeps arbitrary method names out of metric labels.
func methodLabel(method string) string {
	switch method {
	case models.PaymeCheckPerformTransaction, models.PaymeCreateTransaction,
		models.PaymePerformTransaction, models.PaymeCancelTransaction,
		models.PaymeCheckTransaction, models.PaymeGetStatement:
		return method
	}
	return "unknown"
}
