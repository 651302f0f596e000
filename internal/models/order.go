package models

import (
	"encoding/json"
	"errors"
	"time"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderApproved  OrderStatus = "approved"
	OrderRejected  OrderStatus = "rejected"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
)

// Order is the storefront order as seen by the payment callbacks. Total is in
// whole sum; gateway specific external ids and bookkeeping live alongside.
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	Status      OrderStatus     `json:"status"`
	Total       int64           `json:"total_amount"`
	Items       json.RawMessage `json:"items,omitempty"`

	PaymeOrderID       *int64     `json:"payme_order_id,omitempty"`
	PaymeTransactionID *string    `json:"payme_transaction_id,omitempty"`
	PaymeState         *int       `json:"payme_state,omitempty"`
	PaymeCreateTime    *time.Time `json:"payme_create_time,omitempty"`
	PaymePerformTime   *time.Time `json:"payme_perform_time,omitempty"`
	PaymeCancelTime    *time.Time `json:"payme_cancel_time,omitempty"`

	ClickOrderID  *int64 `json:"click_order_id,omitempty"`
	ClickTransID  *int64 `json:"click_trans_id,omitempty"`
	ClickPaydocID *int64 `json:"click_paydoc_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// PaidViaClick reports whether the order was already approved by a Click transaction.
func (o *Order) PaidViaClick() bool {
	return o.Status == OrderApproved && o.ClickTransID != nil
}

// Fulfilled orders can no longer be refunded through a gateway cancel.
func (o *Order) Fulfilled() bool {
	return o.Status == OrderShipped || o.Status == OrderDelivered
}

// StatusUpdate is a deferred order-status write produced by a Click complete
// callback after the gateway has already been answered.
type StatusUpdate struct {
	EventID       string      `json:"event_id"`
	OrderID       int64       `json:"order_id"`
	Status        OrderStatus `json:"status"`
	ClickTransID  int64       `json:"click_trans_id"`
	ClickPaydocID int64       `json:"click_paydoc_id"`
	Amount        int64       `json:"amount"`
	Attempts      int         `json:"attempts"`
	CreatedAt     time.Time   `json:"created_at"`
}

// PaymentChangedEvent is published whenever an order's payment state moves.
type PaymentChangedEvent struct {
	EventID        string      `json:"event_id"`
	OrderID        int64       `json:"order_id"`
	OrderNumber    string      `json:"order_number,omitempty"`
	Gateway        string      `json:"gateway"`
	TransactionID  string      `json:"transaction_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	Amount         int64       `json:"amount"`
	Timestamp      time.Time   `json:"timestamp"`
}

const (
	GatewayPayme = "payme"
	GatewayClick = "click"
)

// ErrNotFound is returned by repositories when a lookup matches no row.
var ErrNotFound = errors.New("not found")
