package models

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"
)

// Click actions.
const (
	ClickActionPrepare  = 0
	ClickActionComplete = 1
)

const (
	ClickMethodPrepare  = "prepare"
	ClickMethodComplete = "complete"
)

// Click error codes.
const (
	ClickSuccess          = 0
	ClickErrSignature     = -1
	ClickErrAmount        = -2
	ClickErrAction        = -3
	ClickErrAlreadyPaid   = -4
	ClickErrOrderNotFound = -5
	ClickErrTxNotFound    = -6
	ClickErrBadRequest    = -8
	ClickErrInternal      = -9
)

// FlexString accepts JSON strings and numbers alike so the same request type
// binds Click's form posts and the relay's JSON bodies.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		unquoted, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = FlexString(unquoted)
		return nil
	}
	*f = FlexString(bytes.TrimSpace(b))
	return nil
}

func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

func (f FlexString) Int64() (int64, error) {
	return strconv.ParseInt(f.String(), 10, 64)
}

// ClickRequest is one Click callback. Fields stay textual so the signature is
// computed over exactly what the gateway sent.
type ClickRequest struct {
	Method            FlexString `form:"method" json:"method"`
	ClickTransID      FlexString `form:"click_trans_id" json:"click_trans_id"`
	ServiceID         FlexString `form:"service_id" json:"service_id"`
	ClickPaydocID     FlexString `form:"click_paydoc_id" json:"click_paydoc_id"`
	MerchantTransID   FlexString `form:"merchant_trans_id" json:"merchant_trans_id"`
	MerchantPrepareID FlexString `form:"merchant_prepare_id" json:"merchant_prepare_id"`
	Amount            FlexString `form:"amount" json:"amount"`
	Action            FlexString `form:"action" json:"action"`
	Error             FlexString `form:"error" json:"error"`
	ErrorNote         FlexString `form:"error_note" json:"error_note"`
	SignTime          FlexString `form:"sign_time" json:"sign_time"`
	SignString        FlexString `form:"sign_string" json:"sign_string"`
}

// AmountSum returns the requested amount rounded to whole sum.
func (r *ClickRequest) AmountSum() (int64, error) {
	v, err := strconv.ParseFloat(r.Amount.String(), 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(v)), nil
}

// GatewayError is the error code Click reports on complete; absent means 0.
// A value that is not a number is reported as ClickErrBadRequest so it never
// reads as success.
func (r *ClickRequest) GatewayError() int {
	if r.Error.String() == "" {
		return 0
	}
	v, err := strconv.ParseFloat(r.Error.String(), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return ClickErrBadRequest
	}
	return int(v)
}

type ClickResponse struct {
	ClickTransID      int64  `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID int64  `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID int64  `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

type ClickTransactionStatus string

const (
	ClickTxPrepared  ClickTransactionStatus = "prepared"
	ClickTxConfirmed ClickTransactionStatus = "confirmed"
	ClickTxCancelled ClickTransactionStatus = "cancelled"
)

// ClickTransaction is a row of the Click ledger; ID doubles as the
// merchant_prepare_id and merchant_confirm_id handed back to Click.
type ClickTransaction struct {
	ID           int64                  `json:"id"`
	ClickTransID int64                  `json:"click_trans_id"`
	OrderID      int64                  `json:"order_id"`
	Amount       int64                  `json:"amount"`
	Status       ClickTransactionStatus `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}
