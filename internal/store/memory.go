package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

// MemoryStore is a process-local ledger with the same contract as
// LedgerStore. A single mutex makes every operation atomic.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	deposits map[string]*domain.Deposit
	orders   map[uuid.UUID]*domain.Order
	intents  map[uuid.UUID]*domain.DeferredIntent
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*domain.User),
		deposits: make(map[string]*domain.Deposit),
		orders:   make(map[uuid.UUID]*domain.Order),
		intents:  make(map[uuid.UUID]*domain.DeferredIntent),
		now:      time.Now,
	}
}

func (m *MemoryStore) GetOrCreateUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, Balance: decimal.Zero, CreatedAt: m.now()}
		m.users[id] = u
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// SetBalance overwrites a balance. Seeding and tests only.
func (m *MemoryStore) SetBalance(id string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		u = &domain.User{ID: id, CreatedAt: m.now()}
		m.users[id] = u
	}
	u.Balance = balance
}

func (m *MemoryStore) Debit(_ context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	if u.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientBalance
	}
	u.Balance = u.Balance.Sub(amount)
	return u.Balance, nil
}

func (m *MemoryStore) RecordCharge(_ context.Context, dep *domain.Deposit, intent *domain.DeferredIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[dep.UserID]; !ok {
		return fmt.Errorf("insert deposit: user %s: %w", dep.UserID, ErrNotFound)
	}
	if _, ok := m.deposits[dep.TxID]; ok {
		return fmt.Errorf("insert deposit: %w", ErrDuplicate)
	}
	if intent != nil {
		for _, existing := range m.intents {
			if existing.ChargeID == intent.ChargeID && existing.Status == domain.IntentWaitingPayment {
				return fmt.Errorf("insert intent: %w", ErrDuplicate)
			}
		}
	}

	now := m.now()
	dep.Status = domain.DepositPending
	dep.CreatedAt = now
	stored := *dep
	m.deposits[dep.TxID] = &stored

	if intent != nil {
		intent.Status = domain.IntentWaitingPayment
		intent.CreatedAt = now
		storedIntent := *intent
		m.intents[intent.ID] = &storedIntent
	}
	return nil
}

func (m *MemoryStore) GetDepositByTxID(_ context.Context, txID string) (*domain.Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[txID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ConfirmDeposit(_ context.Context, txID string, paid decimal.Decimal) (*domain.Deposit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[txID]
	if !ok {
		return nil, false, ErrNotFound
	}
	if d.Status != domain.DepositPending {
		cp := *d
		return &cp, false, nil
	}
	now := m.now()
	d.Status = domain.DepositConfirmed
	d.PaidAmount = paid
	d.ConfirmedAt = &now
	cp := *d
	return &cp, true, nil
}

func (m *MemoryStore) CreditDeposit(_ context.Context, txID string) (decimal.Decimal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deposits[txID]
	if !ok {
		return decimal.Zero, false, ErrNotFound
	}
	if d.Status != domain.DepositConfirmed || d.CreditedAt != nil {
		return decimal.Zero, false, nil
	}
	u, ok := m.users[d.UserID]
	if !ok {
		return decimal.Zero, false, fmt.Errorf("credit balance: user %s: %w", d.UserID, ErrNotFound)
	}
	now := m.now()
	d.CreditedAt = &now
	u.Balance = u.Balance.Add(d.PaidAmount)
	return u.Balance, true, nil
}

func (m *MemoryStore) ListUncreditedDeposits(_ context.Context, limit int) ([]domain.Deposit, error) {
	return m.listDeposits(limit, func(d *domain.Deposit) bool {
		return d.Status == domain.DepositConfirmed && d.CreditedAt == nil
	}), nil
}

func (m *MemoryStore) ListPendingDeposits(_ context.Context, limit int) ([]domain.Deposit, error) {
	return m.listDeposits(limit, func(d *domain.Deposit) bool {
		return d.Status == domain.DepositPending
	}), nil
}

func (m *MemoryStore) listDeposits(limit int, keep func(*domain.Deposit) bool) []domain.Deposit {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Deposit
	for _, d := range m.deposits {
		if keep(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryStore) CreateOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("insert order: %w", ErrDuplicate)
	}
	now := m.now()
	o.CreatedAt, o.UpdatedAt = now, now
	stored := *o
	stored.Result = cloneJSON(o.Result)
	m.orders[o.ID] = &stored
	return nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, id uuid.UUID, status domain.OrderStatus, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != domain.OrderPending && o.Status != status {
		return ErrStateConflict
	}
	o.Status = status
	o.Result = cloneJSON(result)
	o.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Result = cloneJSON(o.Result)
	return &cp, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			cp.Result = cloneJSON(o.Result)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetWaitingIntent(_ context.Context, chargeID string) (*domain.DeferredIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, in := range m.intents {
		if in.ChargeID == chargeID && in.Status == domain.IntentWaitingPayment {
			cp := *in
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CompleteIntent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[id]
	if !ok || in.Status != domain.IntentWaitingPayment {
		return ErrStateConflict
	}
	now := m.now()
	in.Status = domain.IntentCompleted
	in.CompletedAt = &now
	return nil
}

func (m *MemoryStore) SetIntentOrder(_ context.Context, id, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[id]
	if !ok {
		return ErrNotFound
	}
	in.OrderID = &orderID
	return nil
}

// GetIntent returns an intent regardless of status.
func (m *MemoryStore) GetIntent(id uuid.UUID) (*domain.DeferredIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) ListStrandedIntents(_ context.Context, limit int) ([]domain.DeferredIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.DeferredIntent
	for _, in := range m.intents {
		if in.Status != domain.IntentWaitingPayment {
			continue
		}
		for _, d := range m.deposits {
			if d.ChargeID == in.ChargeID && d.Status == domain.DepositConfirmed && d.CreditedAt != nil {
				out = append(out, *in)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneJSON(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
