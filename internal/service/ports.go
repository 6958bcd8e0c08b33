package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
)

// Ledger is the store surface the workflow runs on. Both store.LedgerStore
// and store.MemoryStore satisfy it.
type Ledger interface {
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

type PaymentProvider interface {
	CreateCharge(ctx context.Context, amount decimal.Decimal, payerRef, memo string) (*gateway.Charge, error)
	ChargeStatus(ctx context.Context, chargeID string) (*gateway.ChargeStatus, error)
}

type NumberProvider interface {
	PurchaseNumber(ctx context.Context, serviceCode, country string) (*gateway.Activation, error)
	WaitForVerificationCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, error)
	ConfirmActivation(ctx context.Context, activationID string) error
	CancelActivation(ctx context.Context, activationID string) error
}

type EngagementProvider interface {
	CreateOrder(ctx context.Context, serviceID, link string, quantity int) (string, error)
	Services(ctx context.Context) ([]gateway.EngagementService, error)
}

// Notifier delivers user-facing events to whatever owns the chat transport.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// deliver stamps and sends n; delivery failures never fail the workflow.
func deliver(ctx context.Context, notifier Notifier, logger *slog.Logger, n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := notifier.Notify(ctx, n); err != nil {
		logger.Warn("notification not delivered", "user_id", n.UserID, "kind", n.Kind, "error", err)
	}
}
