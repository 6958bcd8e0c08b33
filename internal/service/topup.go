package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TopUpService opens plain balance top-up charges.
type TopUpService struct {
	ledger  Ledger
	intents *IntentManager
	minimum decimal.Decimal
}

func NewTopUpService(ledger Ledger, intents *IntentManager, minimum decimal.Decimal) *TopUpService {
	return &TopUpService{ledger: ledger, intents: intents, minimum: minimum}
}

// Create parses a user-typed amount and charges it.
func (s *TopUpService) Create(ctx context.Context, userID, rawAmount string) (*PendingCharge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(s.minimum) {
		return nil, fmt.Errorf("%w: minimum top-up is %s", ErrValidation, s.minimum.StringFixed(2))
	}
	if _, err := s.ledger.GetOrCreateUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return s.intents.OpenTopUp(ctx, userID, amount)
}

// ParseAmount accepts "12.50", "12,50" or "12" and rejects anything that is
// not a positive amount with at most two decimal places.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrValidation, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: at most two decimal places", ErrValidation)
	}
	return amount.Round(2), nil
}
