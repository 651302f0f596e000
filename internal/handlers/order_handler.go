package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/telemetry"
)

type OrderReader interface {
	GetByID(ctx context.Context, id int64) (*models.Order, error)
}

type OrderHandler struct {
	repo OrderReader
}

func NewOrderHandler(repo OrderReader) *OrderHandler {
	return &OrderHandler{repo: repo}
}

func (h *OrderHandler) GetPayment(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	order, err := h.repo.GetByID(c.Request.Context(), orderID)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	if err != nil {
		telemetry.Logger.Error("Error fetching order", zap.Int64("order_id", orderID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch order"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
		"status":       order.Status,
		"total_amount": order.Total,
		"payme": gin.H{
			"order_id":       order.PaymeOrderID,
			"transaction_id": order.PaymeTransactionID,
			"state":          order.PaymeState,
			"create_time":    order.PaymeCreateTime,
			"perform_time":   order.PaymePerformTime,
			"cancel_time":    order.PaymeCancelTime,
		},
		"click": gin.H{
			"order_id":  order.ClickOrderID,
			"trans_id":  order.ClickTransID,
			"paydoc_id": order.ClickPaydocID,
		},
		"updated_at": order.UpdatedAt,
	})
}
