package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

// PurchaseResult is either a settled order or a pending charge.
type PurchaseResult struct {
	Decision Decision
	Balance  decimal.Decimal
	Order    *domain.Order
	Pending  *PendingCharge
}

// PurchaseService is the entry point for purchase requests from the chat
// layer.
type PurchaseService struct {
	ledger     Ledger
	intents    *IntentManager
	executor   *Executor
	engagement EngagementProvider
	logger     *slog.Logger
}

func NewPurchaseService(ledger Ledger, intents *IntentManager, executor *Executor, engagement EngagementProvider, logger *slog.Logger) *PurchaseService {
	return &PurchaseService{
		ledger:     ledger,
		intents:    intents,
		executor:   executor,
		engagement: engagement,
		logger:     logger,
	}
}

func (s *PurchaseService) Request(ctx context.Context, userID string, desc domain.PurchaseDescriptor) (*PurchaseResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if err := validatePurchase(ctx, s.engagement, desc); err != nil {
		return nil, err
	}

	user, err := s.ledger.GetOrCreateUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	decision := Evaluate(user.Balance, desc.Price)
	res := &PurchaseResult{Decision: decision, Balance: user.Balance}
	s.logger.Info("purchase evaluated",
		"user_id", userID, "kind", desc.Kind, "price", desc.Price.StringFixed(2),
		"balance", user.Balance.StringFixed(2), "action", decision.Action)

	switch decision.Action {
	case ActionFulfill:
		order, err := s.executor.Execute(ctx, userID, desc, decision.Amount)
		res.Order = order
		if err != nil {
			return res, err
		}
	case ActionDefer:
		pending, err := s.intents.CreateIntent(ctx, userID, desc, decision.Amount)
		if err != nil {
			return nil, err
		}
		res.Pending = pending
	}

	if u, err := s.ledger.GetUser(ctx, userID); err == nil {
		res.Balance = u.Balance
	}
	return res, nil
}
