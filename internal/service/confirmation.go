package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
	"github.com/punchamoorthee/autocheckout/internal/models"
	"github.com/punchamoorthee/autocheckout/internal/store"
)

type Outcome string

const (
	OutcomeIgnored      Outcome = "ignored"
	OutcomeUnknownTx    Outcome = "unknown_tx"
	OutcomeCredited     Outcome = "credited"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeReplayed     Outcome = "replayed"
	OutcomeReplayFailed Outcome = "replay_failed"
)

// Confirmation describes what one payment notification did.
type Confirmation struct {
	Outcome  Outcome       `json:"outcome"`
	TxID     string        `json:"tx_id,omitempty"`
	ChargeID string        `json:"charge_id,omitempty"`
	Order    *domain.Order `json:"order,omitempty"`
}

// ConfirmationHandler turns payment notifications into credits and replays.
type ConfirmationHandler struct {
	secret     string
	ledger     Ledger
	intents    *IntentManager
	executor   *Executor
	engagement EngagementProvider
	notifier   Notifier
	logger     *slog.Logger
}

func NewConfirmationHandler(secret string, ledger Ledger, intents *IntentManager, executor *Executor, engagement EngagementProvider, notifier Notifier, logger *slog.Logger) *ConfirmationHandler {
	return &ConfirmationHandler{
		secret:     secret,
		ledger:     ledger,
		intents:    intents,
		executor:   executor,
		engagement: engagement,
		notifier:   notifier,
		logger:     logger,
	}
}

// Handle processes one raw notification body. A nil error means the
// provider should be acknowledged, including every no-op outcome.
// Processing ignores cancellation of ctx and always runs to completion.
func (h *ConfirmationHandler) Handle(ctx context.Context, body []byte, signature string) (*Confirmation, error) {
	// A dropped provider connection must not abort a credit or a replay
	// halfway; the completed intent could never be replayed again.
	ctx = context.WithoutCancel(ctx)

	if err := h.authenticate(body, signature); err != nil {
		webhookOutcomes.WithLabelValues("rejected").Inc()
		return nil, err
	}

	var hook models.PaymentWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		webhookOutcomes.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if !gateway.IsPaidEvent(hook.Event) {
		h.logger.Debug("ignoring payment event", "event", hook.Event, "charge_id", hook.Data.ID)
		return h.done(&Confirmation{Outcome: OutcomeIgnored, ChargeID: hook.Data.ID}), nil
	}

	txID := hook.Data.TransactionID
	if txID == "" {
		txID = hook.Data.ID
	}
	if txID == "" {
		webhookOutcomes.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: no transaction id", ErrMalformedNotification)
	}
	log := h.logger.With("tx_id", txID)

	dep, err := h.ledger.GetDepositByTxID(ctx, txID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("payment for unknown transaction")
		return h.done(&Confirmation{Outcome: OutcomeUnknownTx, TxID: txID}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load deposit %s: %w", txID, err)
	}
	if hook.Data.ID != "" && hook.Data.ID != dep.ChargeID {
		log.Warn("notification charge id differs from recorded charge", "charge_id", dep.ChargeID, "notified_charge_id", hook.Data.ID)
	}

	paid := hook.Data.Value
	if !paid.IsPositive() {
		paid = dep.Amount
	}
	if !paid.Equal(dep.Amount) {
		log.Warn("paid amount differs from charged amount", "charged", dep.Amount.StringFixed(2), "paid", paid.StringFixed(2))
	}

	// Confirm strictly before crediting: a crash in between leaves a
	// confirmed, uncredited deposit for the reconciler.
	dep, _, err = h.ledger.ConfirmDeposit(ctx, txID, paid)
	if err != nil {
		return nil, fmt.Errorf("confirm deposit %s: %w", txID, err)
	}
	balance, credited, err := h.ledger.CreditDeposit(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("credit deposit %s: %w", txID, err)
	}

	res := &Confirmation{Outcome: OutcomeDuplicate, TxID: txID, ChargeID: dep.ChargeID}
	if credited {
		res.Outcome = OutcomeCredited
		depositsCredited.WithLabelValues("webhook").Inc()
		log.Info("deposit credited", "user_id", dep.UserID, "amount", dep.PaidAmount.StringFixed(2), "balance", balance.StringFixed(2))
	}

	intent, err := h.intents.Resolve(ctx, dep.ChargeID)
	if errors.Is(err, store.ErrNotFound) {
		if credited {
			h.notify(ctx, domain.Notification{
				Kind:    domain.NotifyDepositCredited,
				UserID:  dep.UserID,
				Amount:  dep.PaidAmount,
				Balance: balance,
			})
		}
		return h.done(res), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve intent for charge %s: %w", dep.ChargeID, err)
	}

	outcome, order, err := h.replay(ctx, intent)
	if err != nil {
		return nil, err
	}
	if outcome != "" {
		res.Outcome = outcome
		res.Order = order
	}
	return h.done(res), nil
}

func (h *ConfirmationHandler) authenticate(body []byte, signature string) error {
	if signature == "" {
		h.logger.Warn("payment notification without signature")
		return nil
	}
	if h.secret == "" {
		h.logger.Warn("webhook secret not configured, signature not checked")
		return nil
	}
	if !gateway.VerifySignature(h.secret, body, signature) {
		h.logger.Warn("payment notification signature mismatch")
		return ErrInvalidSignature
	}
	return nil
}

// replay completes the intent and runs its purchase. An empty outcome means
// another caller already completed the intent. Replay failures are reported
// to the user; only ledger errors before completion are returned.
func (h *ConfirmationHandler) replay(ctx context.Context, intent *domain.DeferredIntent) (Outcome, *domain.Order, error) {
	log := h.logger.With("intent_id", intent.ID, "charge_id", intent.ChargeID, "user_id", intent.UserID)

	// Completing first means a concurrent delivery cannot replay twice.
	if err := h.intents.MarkCompleted(ctx, intent.ID); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			log.Info("intent already completed")
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("complete intent %s: %w", intent.ID, err)
	}

	user, err := h.ledger.GetUser(ctx, intent.UserID)
	if err != nil {
		log.Error("load user for replay failed", "error", err)
	}
	n := domain.Notification{Kind: domain.NotifyReplayStarted, UserID: intent.UserID, Amount: intent.Descriptor.Price}
	if user != nil {
		n.Balance = user.Balance
	}
	h.notify(ctx, n)

	desc := intent.Descriptor
	if err := validatePurchase(ctx, h.engagement, desc); err != nil {
		return h.replayFailed(ctx, log, intent, nil, err), nil, nil
	}

	order, err := h.executor.Execute(ctx, intent.UserID, desc, desc.Price)
	if order != nil {
		if lerr := h.ledger.SetIntentOrder(ctx, intent.ID, order.ID); lerr != nil {
			log.Error("link order to intent failed", "order_id", order.ID, "error", lerr)
		}
	}
	if err != nil {
		return h.replayFailed(ctx, log, intent, order, err), order, nil
	}

	replaysTotal.WithLabelValues("fulfilled").Inc()
	log.Info("deferred purchase replayed", "order_id", order.ID)
	h.notify(ctx, domain.Notification{
		Kind:    domain.NotifyOrderFulfilled,
		UserID:  intent.UserID,
		Amount:  order.Amount,
		Balance: h.balance(ctx, intent.UserID),
		Order:   order,
	})
	return OutcomeReplayed, order, nil
}

func (h *ConfirmationHandler) replayFailed(ctx context.Context, log *slog.Logger, intent *domain.DeferredIntent, order *domain.Order, err error) Outcome {
	replaysTotal.WithLabelValues("failed").Inc()
	log.Warn("deferred purchase failed, credit kept", "error", err)
	h.notify(ctx, domain.Notification{
		Kind:    domain.NotifyOrderFailed,
		UserID:  intent.UserID,
		Amount:  intent.Descriptor.Price,
		Balance: h.balance(ctx, intent.UserID),
		Order:   order,
		Reason:  err.Error(),
	})
	return OutcomeReplayFailed
}

func (h *ConfirmationHandler) balance(ctx context.Context, userID string) (b decimal.Decimal) {
	user, err := h.ledger.GetUser(ctx, userID)
	if err != nil {
		return b
	}
	return user.Balance
}

func (h *ConfirmationHandler) notify(ctx context.Context, n domain.Notification) {
	deliver(ctx, h.notifier, h.logger, n)
}

func (h *ConfirmationHandler) done(c *Confirmation) *Confirmation {
	webhookOutcomes.WithLabelValues(string(c.Outcome)).Inc()
	return c
}
