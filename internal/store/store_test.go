package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

// ledger is the surface both implementations share.
type ledger interface {
	GetOrCreateUser(ctx context.Context, id string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	RecordCharge(ctx context.Context, dep *domain.Deposit, intent *domain.DeferredIntent) error
	GetDepositByTxID(ctx context.Context, txID string) (*domain.Deposit, error)
	ConfirmDeposit(ctx context.Context, txID string, paid decimal.Decimal) (*domain.Deposit, bool, error)
	CreditDeposit(ctx context.Context, txID string) (decimal.Decimal, bool, error)
	ListUncreditedDeposits(ctx context.Context, limit int) ([]domain.Deposit, error)
	ListPendingDeposits(ctx context.Context, limit int) ([]domain.Deposit, error)
	CreateOrder(ctx context.Context, o *domain.Order) error
	UpdateOrder(ctx context.Context, id uuid.UUID, status domain.OrderStatus, result json.RawMessage) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	GetWaitingIntent(ctx context.Context, chargeID string) (*domain.DeferredIntent, error)
	CompleteIntent(ctx context.Context, id uuid.UUID) error
	SetIntentOrder(ctx context.Context, id, orderID uuid.UUID) error
	ListStrandedIntents(ctx context.Context, limit int) ([]domain.DeferredIntent, error)
}

var (
	_ ledger = (*MemoryStore)(nil)
	_ ledger = (*LedgerStore)(nil)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMemoryStore(t *testing.T) {
	runLedgerContract(t, func(t *testing.T) ledger { return NewMemoryStore() })
}

func runLedgerContract(t *testing.T, newLedger func(t *testing.T) ledger) {
	ctx := context.Background()

	t.Run("get or create user starts at zero", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()

		u, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.IsZero())

		_, err = l.GetUser(ctx, "missing-"+userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("debit never drives balance negative", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)
		fund(t, l, userID, "10.00")

		balance, err := l.Debit(ctx, userID, dec("4.00"))
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("6.00")))

		_, err = l.Debit(ctx, userID, dec("6.01"))
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		_, err = l.Debit(ctx, "missing-"+userID, dec("1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent debits are serialized", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)
		fund(t, l, userID, "10.00")

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Debit(ctx, userID, dec("1.00")); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		u, err := l.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.IsZero())
	})

	t.Run("deposit confirms and credits exactly once", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)

		txID := "tx-" + uuid.NewString()
		dep := &domain.Deposit{TxID: txID, ChargeID: "ch-" + txID, UserID: userID, Amount: dec("5.00")}
		require.NoError(t, l.RecordCharge(ctx, dep, nil))
		assert.Equal(t, domain.DepositPending, dep.Status)

		err = l.RecordCharge(ctx, &domain.Deposit{TxID: txID, ChargeID: "other", UserID: userID, Amount: dec("1")}, nil)
		assert.ErrorIs(t, err, ErrDuplicate)

		confirmed, first, err := l.ConfirmDeposit(ctx, txID, dec("5.00"))
		require.NoError(t, err)
		assert.True(t, first)
		assert.Equal(t, domain.DepositConfirmed, confirmed.Status)

		_, again, err := l.ConfirmDeposit(ctx, txID, dec("5.00"))
		require.NoError(t, err)
		assert.False(t, again)

		uncredited, err := l.ListUncreditedDeposits(ctx, 0)
		require.NoError(t, err)
		assert.True(t, containsDeposit(uncredited, txID))

		balance, credited, err := l.CreditDeposit(ctx, txID)
		require.NoError(t, err)
		assert.True(t, credited)
		assert.True(t, balance.Equal(dec("5.00")))

		_, credited, err = l.CreditDeposit(ctx, txID)
		require.NoError(t, err)
		assert.False(t, credited)

		u, err := l.GetUser(ctx, userID)
		require.NoError(t, err)
		assert.True(t, u.Balance.Equal(dec("5.00")))

		_, _, err = l.ConfirmDeposit(ctx, "missing-"+txID, dec("1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pending deposit cannot be credited", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)
		txID := "tx-" + uuid.NewString()
		require.NoError(t, l.RecordCharge(ctx, &domain.Deposit{TxID: txID, ChargeID: "ch", UserID: userID, Amount: dec("3")}, nil))

		pending, err := l.ListPendingDeposits(ctx, 0)
		require.NoError(t, err)
		assert.True(t, containsDeposit(pending, txID))

		_, credited, err := l.CreditDeposit(ctx, txID)
		require.NoError(t, err)
		assert.False(t, credited)
	})

	t.Run("intent resolves once per charge", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)

		chargeID := "ch-" + uuid.NewString()
		intent := &domain.DeferredIntent{
			ID:       uuid.New(),
			UserID:   userID,
			ChargeID: chargeID,
			Descriptor: domain.PurchaseDescriptor{
				Kind: domain.KindNumberRental, Price: dec("5.00"), ServiceCode: "wa",
			},
			Shortfall: dec("5.00"),
		}
		dep := &domain.Deposit{TxID: "tx-" + chargeID, ChargeID: chargeID, UserID: userID, Amount: dec("5.00")}
		require.NoError(t, l.RecordCharge(ctx, dep, intent))

		got, err := l.GetWaitingIntent(ctx, chargeID)
		require.NoError(t, err)
		assert.Equal(t, intent.ID, got.ID)
		assert.Equal(t, "wa", got.Descriptor.ServiceCode)
		assert.True(t, got.Descriptor.Price.Equal(dec("5.00")))

		stranded, err := l.ListStrandedIntents(ctx, 0)
		require.NoError(t, err)
		assert.False(t, containsIntent(stranded, intent.ID))

		_, _, err = l.ConfirmDeposit(ctx, dep.TxID, dec("5.00"))
		require.NoError(t, err)
		_, _, err = l.CreditDeposit(ctx, dep.TxID)
		require.NoError(t, err)

		stranded, err = l.ListStrandedIntents(ctx, 0)
		require.NoError(t, err)
		assert.True(t, containsIntent(stranded, intent.ID))

		require.NoError(t, l.CompleteIntent(ctx, intent.ID))
		assert.ErrorIs(t, l.CompleteIntent(ctx, intent.ID), ErrStateConflict)

		_, err = l.GetWaitingIntent(ctx, chargeID)
		assert.ErrorIs(t, err, ErrNotFound)

		orderID := uuid.New()
		require.NoError(t, l.SetIntentOrder(ctx, intent.ID, orderID))
	})

	t.Run("order status is immutable once settled", func(t *testing.T) {
		l := newLedger(t)
		userID := uuid.NewString()
		_, err := l.GetOrCreateUser(ctx, userID)
		require.NoError(t, err)

		o := &domain.Order{
			ID:     uuid.New(),
			UserID: userID,
			Kind:   domain.KindEngagement,
			Descriptor: domain.PurchaseDescriptor{
				Kind: domain.KindEngagement, Price: dec("2.50"), ServiceID: "101", Link: "https://x.test/p", Quantity: 100,
			},
			Amount: dec("2.50"),
			Status: domain.OrderPending,
		}
		require.NoError(t, l.CreateOrder(ctx, o))

		require.NoError(t, l.UpdateOrder(ctx, o.ID, domain.OrderFulfilled, json.RawMessage(`{"provider_order_id":"77"}`)))
		require.NoError(t, l.UpdateOrder(ctx, o.ID, domain.OrderFulfilled, json.RawMessage(`{"provider_order_id":"77","code":"1"}`)))
		assert.ErrorIs(t, l.UpdateOrder(ctx, o.ID, domain.OrderFailed, nil), ErrStateConflict)
		assert.ErrorIs(t, l.UpdateOrder(ctx, uuid.New(), domain.OrderFailed, nil), ErrNotFound)

		got, err := l.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderFulfilled, got.Status)
		assert.JSONEq(t, `{"provider_order_id":"77","code":"1"}`, string(got.Result))

		list, err := l.ListOrders(ctx, userID, 10)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, o.ID, list[0].ID)
	})
}

// fund credits a user through the deposit path, the only way balance grows.
func fund(t *testing.T, l ledger, userID, amount string) {
	t.Helper()
	ctx := context.Background()
	txID := "fund-" + uuid.NewString()
	require.NoError(t, l.RecordCharge(ctx, &domain.Deposit{TxID: txID, ChargeID: txID, UserID: userID, Amount: dec(amount)}, nil))
	_, _, err := l.ConfirmDeposit(ctx, txID, dec(amount))
	require.NoError(t, err)
	_, _, err = l.CreditDeposit(ctx, txID)
	require.NoError(t, err)
}

func containsDeposit(deps []domain.Deposit, txID string) bool {
	for _, d := range deps {
		if d.TxID == txID {
			return true
		}
	}
	return false
}

func containsIntent(intents []domain.DeferredIntent, id uuid.UUID) bool {
	for _, in := range intents {
		if in.ID == id {
			return true
		}
	}
	return false
}
