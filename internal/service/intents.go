package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
)

// PendingCharge is a charge shown to the payer together with the records
// persisted for it. Intent is nil for a plain top-up.
type PendingCharge struct {
	Charge  *gateway.Charge
	Deposit *domain.Deposit
	Intent  *domain.DeferredIntent
}

// IntentManager opens charges and owns the deferred intent lifecycle.
type IntentManager struct {
	ledger   Ledger
	payments PaymentProvider
	logger   *slog.Logger
}

func NewIntentManager(ledger Ledger, payments PaymentProvider, logger *slog.Logger) *IntentManager {
	return &IntentManager{ledger: ledger, payments: payments, logger: logger}
}

// CreateIntent charges the shortfall and stores the full purchase so it can
// be replayed once the charge is paid.
func (m *IntentManager) CreateIntent(ctx context.Context, userID string, desc domain.PurchaseDescriptor, shortfall decimal.Decimal) (*PendingCharge, error) {
	if !shortfall.IsPositive() {
		return nil, fmt.Errorf("%w: shortfall must be positive, got %s", ErrValidation, shortfall)
	}
	memo := "Payment for " + string(desc.Kind)
	if desc.ServiceName != "" {
		memo = "Payment for " + desc.ServiceName
	}
	return m.openCharge(ctx, userID, shortfall, memo, &desc)
}

// OpenTopUp charges amount with no purchase attached.
func (m *IntentManager) OpenTopUp(ctx context.Context, userID string, amount decimal.Decimal) (*PendingCharge, error) {
	return m.openCharge(ctx, userID, amount, "Balance top-up", nil)
}

func (m *IntentManager) openCharge(ctx context.Context, userID string, amount decimal.Decimal, memo string, desc *domain.PurchaseDescriptor) (*PendingCharge, error) {
	charge, err := m.payments.CreateCharge(ctx, amount, userID, memo)
	if err != nil {
		return nil, fmt.Errorf("%w: create charge: %v", ErrUpstream, err)
	}

	dep := &domain.Deposit{
		TxID:     charge.TxID,
		ChargeID: charge.ID,
		UserID:   userID,
		Amount:   amount,
	}
	var intent *domain.DeferredIntent
	if desc != nil {
		intent = &domain.DeferredIntent{
			ID:         uuid.New(),
			UserID:     userID,
			ChargeID:   charge.ID,
			Descriptor: *desc,
			Shortfall:  amount,
		}
	}

	// The charge exists upstream from here on; record it even if the caller left.
	if err := m.ledger.RecordCharge(context.WithoutCancel(ctx), dep, intent); err != nil {
		// The charge exists upstream but nothing here will credit it.
		m.logger.Error("charge created but not recorded",
			"user_id", userID, "charge_id", charge.ID, "tx_id", charge.TxID, "error", err)
		return nil, fmt.Errorf("record charge %s: %w", charge.ID, err)
	}

	m.logger.Info("charge opened",
		"user_id", userID, "charge_id", charge.ID, "tx_id", charge.TxID,
		"amount", amount.StringFixed(2), "deferred", intent != nil)
	return &PendingCharge{Charge: charge, Deposit: dep, Intent: intent}, nil
}

// Resolve returns the intent still waiting on chargeID, or store.ErrNotFound
// once it has been completed.
func (m *IntentManager) Resolve(ctx context.Context, chargeID string) (*domain.DeferredIntent, error) {
	return m.ledger.GetWaitingIntent(ctx, chargeID)
}

// MarkCompleted moves the intent out of waiting_payment. Only one caller can
// win; the rest get store.ErrStateConflict.
func (m *IntentManager) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return m.ledger.CompleteIntent(ctx, id)
}
