package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
)

// OrderRepository defines the contract for order data access. Lookups return
// models.ErrNotFound when nothing matches; status writes are conditional and
// report the number of rows they changed.
type OrderRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	GetByPaymeOrderID(ctx context.Context, paymeOrderID int64) (*models.Order, error)
	GetByClickOrderID(ctx context.Context, clickOrderID int64) (*models.Order, error)
	TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (int64, error)
	RecordPaymeTransaction(ctx context.Context, orderID int64, tx *models.PaymeTransaction) error
	ApplyClickCompletion(ctx context.Context, update models.StatusUpdate) (int64, error)
}

// PaymeTransactionRepository is the ledger of Payme transactions keyed by Payme's id.
type PaymeTransactionRepository interface {
	Create(ctx context.Context, tx *models.PaymeTransaction) (*models.PaymeTransaction, error)
	GetByID(ctx context.Context, id string) (*models.PaymeTransaction, error)
	GetActiveByOrderID(ctx context.Context, orderID int64) (*models.PaymeTransaction, error)
	UpdateState(ctx context.Context, tx *models.PaymeTransaction, fromState int) (int64, error)
	ListByCreateTime(ctx context.Context, from, to int64) ([]*models.PaymeTransaction, error)
}

// ClickTransactionRepository is the ledger of Click transactions keyed by click_trans_id.
type ClickTransactionRepository interface {
	Prepare(ctx context.Context, tx *models.ClickTransaction) (*models.ClickTransaction, error)
	GetByID(ctx context.Context, id int64) (*models.ClickTransaction, error)
	UpdateStatus(ctx context.Context, id int64, status models.ClickTransactionStatus) error
	GetConfirmedByOrderID(ctx context.Context, orderID int64) (*models.ClickTransaction, error)
}

// OrderLocker serializes callbacks touching the same order across instances.
type OrderLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), acquired bool, err error)
}
