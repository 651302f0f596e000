package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akylbek/storefront/payment-callbacks/internal/models"
	"github.com/akylbek/storefront/payment-callbacks/internal/repository"
)

// memOrders is an in-memory OrderRepository with the same conditional update
// semantics as the SQL one.
type memOrders struct {
	mu     sync.Mutex
	orders map[int64]*models.Order
	err    error
}

func newMemOrders(orders ...*models.Order) *memOrders {
	m := &memOrders{orders: make(map[int64]*models.Order)}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memOrders) get(id int64) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := *m.orders[id]
	return &o
}

func (m *memOrders) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) GetByPaymeOrderID(ctx context.Context, paymeOrderID int64) (*models.Order, error) {
	return m.find(func(o *models.Order) bool { return o.PaymeOrderID != nil && *o.PaymeOrderID == paymeOrderID })
}

func (m *memOrders) GetByClickOrderID(ctx context.Context, clickOrderID int64) (*models.Order, error) {
	return m.find(func(o *models.Order) bool { return o.ClickOrderID != nil && *o.ClickOrderID == clickOrderID })
}

func (m *memOrders) find(match func(o *models.Order) bool) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.orders {
		if match(o) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memOrders) TransitionStatus(ctx context.Context, orderID int64, from, to models.OrderStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.Status != from {
		return 0, nil
	}
	o.Status = to
	return 1, nil
}

func (m *memOrders) RecordPaymeTransaction(ctx context.Context, orderID int64, tx *models.PaymeTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	id, state := tx.ID, tx.State
	o.PaymeTransactionID = &id
	o.PaymeState = &state
	return nil
}

func (m *memOrders) ApplyClickCompletion(ctx context.Context, update models.StatusUpdate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	o, ok := m.orders[update.OrderID]
	if !ok || o.Status != models.OrderPending {
		return 0, nil
	}
	transID, paydocID := update.ClickTransID, update.ClickPaydocID
	o.Status = update.Status
	o.ClickTransID = &transID
	o.ClickPaydocID = &paydocID
	return 1, nil
}

type memPaymeTxs struct {
	mu     sync.Mutex
	txs    map[string]*models.PaymeTransaction
	nextID int64
}

func newMemPaymeTxs(txs ...*models.PaymeTransaction) *memPaymeTxs {
	m := &memPaymeTxs{txs: make(map[string]*models.PaymeTransaction), nextID: 100}
	for _, tx := range txs {
		m.txs[tx.ID] = tx
	}
	return m
}

func (m *memPaymeTxs) Create(ctx context.Context, tx *models.PaymeTransaction) (*models.PaymeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; ok {
		return nil, repository.ErrDuplicateTransaction
	}
	m.nextID++
	created := *tx
	created.LedgerID = m.nextID
	m.txs[tx.ID] = &created
	cp := created
	return &cp, nil
}

func (m *memPaymeTxs) GetByID(ctx context.Context, id string) (*models.PaymeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memPaymeTxs) GetActiveByOrderID(ctx context.Context, orderID int64) (*models.PaymeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.txs {
		if tx.OrderID == orderID && tx.State == models.PaymeStateCreated {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memPaymeTxs) UpdateState(ctx context.Context, tx *models.PaymeTransaction, fromState int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.txs[tx.ID]
	if !ok || stored.State != fromState {
		return 0, nil
	}
	stored.State = tx.State
	stored.Reason = tx.Reason
	stored.PerformTime = tx.PerformTime
	stored.CancelTime = tx.CancelTime
	return 1, nil
}

func (m *memPaymeTxs) ListByCreateTime(ctx context.Context, from, to int64) ([]*models.PaymeTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymeTransaction
	for _, tx := range m.txs {
		if tx.CreateTime >= from && tx.CreateTime <= to {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime < out[j].CreateTime })
	return out, nil
}

type memClickTxs struct {
	mu      sync.Mutex
	byID    map[int64]*models.ClickTransaction
	byTrans map[int64]int64
	nextID  int64
}

func newMemClickTxs() *memClickTxs {
	return &memClickTxs{byID: make(map[int64]*models.ClickTransaction), byTrans: make(map[int64]int64)}
}

func (m *memClickTxs) Prepare(ctx context.Context, tx *models.ClickTransaction) (*models.ClickTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byTrans[tx.ClickTransID]; ok {
		cp := *m.byID[id]
		return &cp, nil
	}
	m.nextID++
	created := *tx
	created.ID = m.nextID
	m.byID[created.ID] = &created
	m.byTrans[tx.ClickTransID] = created.ID
	cp := created
	return &cp, nil
}

func (m *memClickTxs) GetByID(ctx context.Context, id int64) (*models.ClickTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memClickTxs) UpdateStatus(ctx context.Context, id int64, status models.ClickTransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.byID[id]; ok {
		tx.Status = status
	}
	return nil
}

func (m *memClickTxs) GetConfirmedByOrderID(ctx context.Context, orderID int64) (*models.ClickTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := int64(1); id <= m.nextID; id++ {
		if tx, ok := m.byID[id]; ok && tx.OrderID == orderID && tx.Status == models.ClickTxConfirmed {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []models.PaymentChangedEvent
}

func (f *fakeEvents) PaymentChanged(ctx context.Context, event models.PaymentChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// syncQueue applies deferred updates inline.
type syncQueue struct {
	applier   *StatusApplier
	submitted []models.StatusUpdate
}

func (q *syncQueue) Submit(ctx context.Context, update models.StatusUpdate) {
	q.submitted = append(q.submitted, update)
	if q.applier != nil {
		_ = q.applier.ApplyStatusUpdate(ctx, update)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }
