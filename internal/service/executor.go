package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
	"github.com/punchamoorthee/autocheckout/internal/store"
)

type ExecutorConfig struct {
	CodeAttempts int
	CodeInterval time.Duration
}

// Executor issues purchases upstream and settles them against the ledger.
type Executor struct {
	ledger     Ledger
	numbers    NumberProvider
	engagement EngagementProvider
	notifier   Notifier
	cfg        ExecutorConfig
	logger     *slog.Logger

	locks *userLocks

	// background verification-code waits
	bg     context.Context
	stopBg context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(ledger Ledger, numbers NumberProvider, engagement EngagementProvider, notifier Notifier, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.CodeAttempts <= 0 {
		cfg.CodeAttempts = 24
	}
	if cfg.CodeInterval <= 0 {
		cfg.CodeInterval = 5 * time.Second
	}
	bg, stop := context.WithCancel(context.Background())
	return &Executor{
		ledger:     ledger,
		numbers:    numbers,
		engagement: engagement,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		locks:      newUserLocks(),
		bg:         bg,
		stopBg:     stop,
	}
}

// Execute buys desc for userID and debits price only if the provider call
// succeeded. The returned order is non-nil whenever one was persisted, even
// alongside an error. Cancellation of ctx is ignored: once started, a
// purchase is always settled.
func (e *Executor) Execute(ctx context.Context, userID string, desc domain.PurchaseDescriptor, price decimal.Decimal) (*domain.Order, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := e.locks.lock(userID)
	defer unlock()

	user, err := e.ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if user.Balance.LessThan(price) {
		return nil, fmt.Errorf("%w: balance %s, price %s", ErrInsufficientFunds, user.Balance.StringFixed(2), price.StringFixed(2))
	}

	order := &domain.Order{
		ID:         uuid.New(),
		UserID:     userID,
		Kind:       desc.Kind,
		Descriptor: desc,
		Amount:     price,
		Status:     domain.OrderPending,
	}
	if err := e.ledger.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result, err := e.purchase(ctx, desc)
	if err != nil {
		e.settle(ctx, order, domain.OrderFailed, domain.OrderResult{Error: err.Error()})
		e.logger.Warn("upstream purchase failed",
			"user_id", userID, "order_id", order.ID, "kind", desc.Kind, "error", err)
		return order, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	balance, err := e.ledger.Debit(ctx, userID, price)
	if err != nil {
		e.logger.Error("debit after purchase failed",
			"user_id", userID, "order_id", order.ID, "amount", price.StringFixed(2), "error", err)
		if result.ActivationID != "" {
			if cerr := e.numbers.CancelActivation(ctx, result.ActivationID); cerr != nil {
				e.logger.Error("cancel activation failed", "activation_id", result.ActivationID, "error", cerr)
			}
		}
		if result.ProviderOrderID != "" {
			// Engagement orders cannot be cancelled upstream: the goods ship unpaid.
			e.logger.Error("engagement order delivered without debit",
				"user_id", userID, "order_id", order.ID, "provider_order_id", result.ProviderOrderID,
				"amount", price.StringFixed(2))
			unpaidDeliveries.Inc()
		}
		result.Error = "debit failed"
		e.settle(ctx, order, domain.OrderFailed, result)
		if errors.Is(err, store.ErrInsufficientBalance) {
			return order, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
		return order, fmt.Errorf("debit: %w", err)
	}

	if err := e.settle(ctx, order, domain.OrderFulfilled, result); err != nil {
		return order, fmt.Errorf("settle order %s: %w", order.ID, err)
	}
	e.logger.Info("order fulfilled",
		"user_id", userID, "order_id", order.ID, "kind", desc.Kind,
		"amount", price.StringFixed(2), "balance", balance.StringFixed(2))

	if result.ActivationID != "" {
		snapshot := *order
		e.wg.Add(1)
		go e.awaitCode(&snapshot, result)
	}
	return order, nil
}

func (e *Executor) purchase(ctx context.Context, desc domain.PurchaseDescriptor) (domain.OrderResult, error) {
	timer := prometheus.NewTimer(upstreamLatency.WithLabelValues(string(desc.Kind)))
	defer timer.ObserveDuration()

	switch desc.Kind {
	case domain.KindNumberRental:
		act, err := e.numbers.PurchaseNumber(ctx, desc.ServiceCode, desc.Country)
		if err != nil {
			return domain.OrderResult{}, err
		}
		return domain.OrderResult{
			ActivationID: act.ID,
			PhoneNumber:  act.PhoneNumber,
			CodeStatus:   domain.CodeWaiting,
		}, nil
	case domain.KindEngagement:
		id, err := e.engagement.CreateOrder(ctx, desc.ServiceID, desc.Link, desc.Quantity)
		if err != nil {
			return domain.OrderResult{}, err
		}
		return domain.OrderResult{ProviderOrderID: id}, nil
	default:
		return domain.OrderResult{}, fmt.Errorf("unknown purchase kind %q", desc.Kind)
	}
}

// settle records the order outcome and updates order in place.
func (e *Executor) settle(ctx context.Context, order *domain.Order, status domain.OrderStatus, result domain.OrderResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := e.ledger.UpdateOrder(ctx, order.ID, status, raw); err != nil {
		e.logger.Error("update order failed", "order_id", order.ID, "status", status, "error", err)
		return err
	}
	order.Status = status
	order.Result = raw
	ordersTotal.WithLabelValues(string(order.Kind), string(status)).Inc()
	return nil
}

// awaitCode runs the bounded verification-code wait for a rented number and
// records its outcome on the order.
func (e *Executor) awaitCode(order *domain.Order, result domain.OrderResult) {
	defer e.wg.Done()
	ctx := e.bg
	log := e.logger.With("order_id", order.ID, "activation_id", result.ActivationID)

	code, err := e.numbers.WaitForVerificationCode(ctx, result.ActivationID, e.cfg.CodeAttempts, e.cfg.CodeInterval)
	kind := domain.NotifyCodeReceived
	switch {
	case err == nil:
		result.CodeStatus = domain.CodeReceived
		result.Code = code
		if cerr := e.numbers.ConfirmActivation(ctx, result.ActivationID); cerr != nil {
			log.Warn("confirm activation failed", "error", cerr)
		}
		codeWaits.WithLabelValues("received").Inc()
	case errors.Is(err, gateway.ErrTimeout):
		result.CodeStatus = domain.CodeTimeout
		kind = domain.NotifyCodeTimeout
		codeWaits.WithLabelValues("timeout").Inc()
	case errors.Is(err, gateway.ErrActivationEnded):
		result.CodeStatus = domain.CodeEnded
		result.Error = err.Error()
		kind = domain.NotifyCodeTimeout
		log.Warn("activation closed by provider before a code arrived", "error", err)
		codeWaits.WithLabelValues("ended").Inc()
	default:
		// shutdown; the order keeps code_status=waiting
		log.Warn("verification code wait aborted", "error", err)
		codeWaits.WithLabelValues("aborted").Inc()
		return
	}

	if err := e.settle(ctx, order, domain.OrderFulfilled, result); err != nil {
		return
	}
	e.notify(ctx, domain.Notification{Kind: kind, UserID: order.UserID, Order: order})
	log.Info("verification code wait finished", "code_status", result.CodeStatus)
}

func (e *Executor) notify(ctx context.Context, n domain.Notification) {
	deliver(ctx, e.notifier, e.logger, n)
}

// Wait blocks until every background verification-code wait has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close aborts background waits and blocks until they return.
func (e *Executor) Close() {
	e.stopBg()
	e.wg.Wait()
}
