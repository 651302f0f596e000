package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/service"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

type ClickProcessor interface {
	Prepare(ctx context.Context, req *models.ClickRequest) (*models.ClickResponse, error)
	Complete(ctx context.Context, req *models.ClickRequest) (*service.CompleteResult, error)
	Defer(ctx context.Context, update models.StatusUpdate)
}

type ClickHandler struct {
	svc ClickProcessor
}

func NewClickHandler(svc ClickProcessor) *ClickHandler {
	return &ClickHandler{svc: svc}
}

// Handle serves direct integrations that name the action in the body.
func (h *ClickHandler) Handle(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}

	switch req.Method.String() {
	case models.ClickMethodPrepare:
		h.prepare(c, req)
	case models.ClickMethodComplete:
		h.complete(c, req)
	default:
		h.respond(c, "unknown", &models.ClickResponse{
			MerchantTransID: req.MerchantTransID.String(),
			Error:           models.ClickErrAction,
			ErrorNote:       "Action not found",
		})
	}
}

func (h *ClickHandler) Prepare(c *gin.Context) {
	if req, ok := h.bind(c); ok {
		h.prepare(c, req)
	}
}

func (h *ClickHandler) Complete(c *gin.Context) {
	if req, ok := h.bind(c); ok {
		h.complete(c, req)
	}
}

func (h *ClickHandler) bind(c *gin.Context) (*models.ClickRequest, bool) {
	var req models.ClickRequest
	if err := c.ShouldBind(&req); err != nil {
		telemetry.Logger.Error("Error decoding Click request", zap.Error(err))
		h.respond(c, "unknown", service.InternalError(&req))
		return nil, false
	}
	return &req, true
}

func (h *ClickHandler) prepare(c *gin.Context, req *models.ClickRequest) {
	resp, err := h.svc.Prepare(c.Request.Context(), req)
	if err != nil {
		telemetry.Logger.Error("Error processing Click prepare",
			zap.String("click_trans_id", req.ClickTransID.String()),
			zap.String("merchant_trans_id", req.MerchantTransID.String()),
			zap.Error(err),
		)
		resp = service.InternalError(req)
	}
	h.respond(c, models.ClickMethodPrepare, resp)
}

// complete answers Click first and only then hands the order update over, so
// a slow database never holds the gateway's connection open.
func (h *ClickHandler) complete(c *gin.Context, req *models.ClickRequest) {
	result, err := h.svc.Complete(c.Request.Context(), req)
	if err != nil {
		telemetry.Logger.Error("Error processing Click complete",
			zap.String("click_trans_id", req.ClickTransID.String()),
			zap.String("merchant_trans_id", req.MerchantTransID.String()),
			zap.Error(err),
		)
		h.respond(c, models.ClickMethodComplete, service.InternalError(req))
		return
	}

	h.respond(c, models.ClickMethodComplete, result.Response)
	c.Writer.Flush()

	if result.Update != nil {
		h.svc.Defer(c.Request.Context(), *result.Update)
	}
}

func (h *ClickHandler) respond(c *gin.Context, method string, resp *models.ClickResponse) {
	telemetry.RecordCallback(models.GatewayClick, method, resp.Error)
	c.JSON(http.StatusOK, resp)
}
