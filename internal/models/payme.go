package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payme JSON-RPC methods.
const (
	PaymeCheckPerformTransaction = "CheckPerformTransaction"
	PaymeCreateTransaction       = "CreateTransaction"
	PaymePerformTransaction      = "PerformTransaction"
	PaymeCancelTransaction       = "CancelTransaction"
	PaymeCheckTransaction        = "CheckTransaction"
	PaymeGetStatement            = "GetStatement"
)

// Payme transaction states.
const (
	PaymeStateCreated               = 1
	PaymeStatePerformed             = 2
	PaymeStateCancelled             = -1
	PaymeStateCancelledAfterPerform = -2
)

// PaymeReasonTimeout is the cancel reason recorded when a created transaction expires.
const PaymeReasonTimeout = 4

// Payme error codes.
const (
	PaymeErrInvalidAmount      = -31001
	PaymeErrTxNotFound         = -31003
	PaymeErrCannotCancel       = -31007
	PaymeErrCannotPerform      = -31008
	PaymeErrOrderNotFound      = -31050
	PaymeErrOrderAlreadyPaid   = -31051
	PaymeErrOrderBusy          = -31052
	PaymeErrParse              = -32700
	PaymeErrMethodNotFound     = -32601
	PaymeErrInsufficientAccess = -32504
	PaymeErrSystem             = -32400
)

type LocalizedMessage struct {
	RU string `json:"ru"`
	UZ string `json:"uz"`
	EN string `json:"en"`
}

// PaymeError is a protocol error carried in the "error" member of a response.
type PaymeError struct {
	Code    int              `json:"code"`
	Message LocalizedMessage `json:"message"`
	Data    string           `json:"data,omitempty"`
}

func (e *PaymeError) Error() string {
	return fmt.Sprintf("payme error %d: %s", e.Code, e.Message.EN)
}

func NewPaymeError(code int, data string) *PaymeError {
	return &PaymeError{Code: code, Message: paymeMessages[code], Data: data}
}

var paymeMessages = map[int]LocalizedMessage{
	PaymeErrInvalidAmount: {
		RU: "Неверная сумма",
		UZ: "Noto'g'ri summa",
		EN: "Invalid amount",
	},
	PaymeErrTxNotFound: {
		RU: "Транзакция не найдена",
		UZ: "Tranzaksiya topilmadi",
		EN: "Transaction not found",
	},
	PaymeErrCannotCancel: {
		RU: "Заказ выполнен. Невозможно отменить транзакцию",
		UZ: "Buyurtma bajarilgan. Tranzaksiyani bekor qilib bo'lmaydi",
		EN: "Order is fulfilled. Unable to cancel transaction",
	},
	PaymeErrCannotPerform: {
		RU: "Невозможно выполнить данную операцию",
		UZ: "Ushbu amalni bajarib bo'lmaydi",
		EN: "Unable to perform operation",
	},
	PaymeErrOrderNotFound: {
		RU: "Заказ не найден",
		UZ: "Buyurtma topilmadi",
		EN: "Order not found",
	},
	PaymeErrOrderAlreadyPaid: {
		RU: "Заказ уже оплачен",
		UZ: "Buyurtma allaqachon to'langan",
		EN: "Order already paid",
	},
	PaymeErrOrderBusy: {
		RU: "Заказ ожидает оплаты по другой транзакции",
		UZ: "Buyurtma boshqa tranzaksiya bo'yicha to'lovni kutmoqda",
		EN: "Order has another pending transaction",
	},
	PaymeErrParse: {
		RU: "Ошибка разбора JSON",
		UZ: "JSON tahlilida xatolik",
		EN: "Parse error",
	},
	PaymeErrMethodNotFound: {
		RU: "Метод не найден",
		UZ: "Metod topilmadi",
		EN: "Method not found",
	},
	PaymeErrInsufficientAccess: {
		RU: "Недостаточно привилегий для выполнения метода",
		UZ: "Metodni bajarish uchun huquqlar yetarli emas",
		EN: "Insufficient privileges to perform this method",
	},
	PaymeErrSystem: {
		RU: "Системная ошибка",
		UZ: "Tizim xatoligi",
		EN: "System error",
	},
}

// FlexInt64 decodes both JSON numbers and numeric strings; Payme sends account
// fields in whichever form the merchant cabinet was configured with. Empty or
// non-numeric values decode to zero, which never matches an order, so they
// surface as an account error rather than a parse error.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(bytes.Trim(b, `"`)), 10, 64)
	if err != nil {
		v = 0
	}
	*f = FlexInt64(v)
	return nil
}

type PaymeAccount struct {
	OrderID FlexInt64 `json:"order_id"`
}

type PaymeParams struct {
	ID      string       `json:"id"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
	Reason  *int         `json:"reason"`
	From    int64        `json:"from"`
	To      int64        `json:"to"`
}

type PaymeRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  PaymeParams     `json:"params"`
}

type PaymeResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *PaymeError     `json:"error,omitempty"`
}

// PaymeTransaction is a row of the Payme transaction ledger. Times are unix millis.
type PaymeTransaction struct {
	LedgerID    int64  `json:"-"`
	ID          string `json:"id"`
	OrderID     int64  `json:"order_id"`
	Amount      int64  `json:"amount"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
	PaymeTime   int64  `json:"time"`
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
}

// Transaction is the merchant-side transaction number reported back to Payme.
func (t *PaymeTransaction) Transaction() string {
	return strconv.FormatInt(t.LedgerID, 10)
}

func (t *PaymeTransaction) Cancelled() bool {
	return t.State == PaymeStateCancelled || t.State == PaymeStateCancelledAfterPerform
}

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformTransactionResult struct {
	Transaction string `json:"transaction"`
	PerformTime int64  `json:"perform_time"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	Transaction string `json:"transaction"`
	CancelTime  int64  `json:"cancel_time"`
	State       int    `json:"state"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementTransaction struct {
	ID          string       `json:"id"`
	Time        int64        `json:"time"`
	Amount      int64        `json:"amount"`
	Account     PaymeAccount `json:"account"`
	CreateTime  int64        `json:"create_time"`
	PerformTime int64        `json:"perform_time"`
	CancelTime  int64        `json:"cancel_time"`
	Transaction string       `json:"transaction"`
	State       int          `json:"state"`
	Reason      *int         `json:"reason"`
}

type StatementResult struct {
	Transactions []StatementTransaction `json:"transactions"`
}
