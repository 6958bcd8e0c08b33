package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
	"github.com/punchamoorthee/autocheckout/internal/store"
)

const testSecret = "whsec_test"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePayments struct {
	CreateChargeFunc func(ctx context.Context, amount decimal.Decimal, payerRef, memo string) (*gateway.Charge, error)
	ChargeStatusFunc func(ctx context.Context, chargeID string) (*gateway.ChargeStatus, error)

	seq     atomic.Int32
	charges atomic.Int32
}

func (f *fakePayments) CreateCharge(ctx context.Context, amount decimal.Decimal, payerRef, memo string) (*gateway.Charge, error) {
	f.charges.Add(1)
	if f.CreateChargeFunc != nil {
		return f.CreateChargeFunc(ctx, amount, payerRef, memo)
	}
	n := f.seq.Add(1)
	return &gateway.Charge{
		ID:            fmt.Sprintf("C%d", n),
		TxID:          fmt.Sprintf("T%d", n),
		Amount:        amount,
		QRImage:       "qr",
		CopyPasteCode: "pix-code",
		Status:        "pending",
	}, nil
}

func (f *fakePayments) ChargeStatus(ctx context.Context, chargeID string) (*gateway.ChargeStatus, error) {
	if f.ChargeStatusFunc != nil {
		return f.ChargeStatusFunc(ctx, chargeID)
	}
	return &gateway.ChargeStatus{ID: chargeID, Status: "pending"}, nil
}

type fakeNumbers struct {
	PurchaseNumberFunc func(ctx context.Context, serviceCode, country string) (*gateway.Activation, error)
	WaitFunc           func(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, error)

	purchases atomic.Int32
	confirmed atomic.Int32
	cancelled atomic.Int32
}

func (f *fakeNumbers) PurchaseNumber(ctx context.Context, serviceCode, country string) (*gateway.Activation, error) {
	f.purchases.Add(1)
	if f.PurchaseNumberFunc != nil {
		return f.PurchaseNumberFunc(ctx, serviceCode, country)
	}
	return &gateway.Activation{ID: "A1", PhoneNumber: "5511999990000", ServiceCode: serviceCode}, nil
}

func (f *fakeNumbers) WaitForVerificationCode(ctx context.Context, activationID string, maxAttempts int, interval time.Duration) (string, error) {
	if f.WaitFunc != nil {
		return f.WaitFunc(ctx, activationID, maxAttempts, interval)
	}
	return "123456", nil
}

func (f *fakeNumbers) ConfirmActivation(ctx context.Context, activationID string) error {
	f.confirmed.Add(1)
	return nil
}

func (f *fakeNumbers) CancelActivation(ctx context.Context, activationID string) error {
	f.cancelled.Add(1)
	return nil
}

type fakeEngagement struct {
	CreateOrderFunc func(ctx context.Context, serviceID, link string, quantity int) (string, error)
	ServicesFunc    func(ctx context.Context) ([]gateway.EngagementService, error)

	orders atomic.Int32
}

func (f *fakeEngagement) CreateOrder(ctx context.Context, serviceID, link string, quantity int) (string, error) {
	f.orders.Add(1)
	if f.CreateOrderFunc != nil {
		return f.CreateOrderFunc(ctx, serviceID, link, quantity)
	}
	return "9001", nil
}

func (f *fakeEngagement) Services(ctx context.Context) ([]gateway.EngagementService, error) {
	if f.ServicesFunc != nil {
		return f.ServicesFunc(ctx)
	}
	return []gateway.EngagementService{
		{ID: "101", Name: "Followers", Rate: dec("0.90"), Min: 100, Max: 10000},
	}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []domain.Notification
	Fails bool
}

func (r *recordingNotifier) Notify(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	if r.Fails {
		return errors.New("dispatcher offline")
	}
	return nil
}

func (r *recordingNotifier) kinds() []domain.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recordingNotifier) last(kind domain.NotificationKind) (domain.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Kind == kind {
			return r.sent[i], true
		}
	}
	return domain.Notification{}, false
}

// failingCredit simulates a crash between confirming and crediting.
type failingCredit struct {
	Ledger
}

func (f failingCredit) CreditDeposit(context.Context, string) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, errors.New("connection reset")
}

// failingDebit simulates a ledger outage right after the provider call.
type failingDebit struct {
	Ledger
}

func (f failingDebit) Debit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("connection reset")
}

// cancelAware fails writes on a cancelled context, the way pgx does.
type cancelAware struct {
	Ledger
}

func (c cancelAware) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return c.Ledger.Debit(ctx, userID, amount)
}

func (c cancelAware) CreditDeposit(ctx context.Context, txID string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, false, err
	}
	return c.Ledger.CreditDeposit(ctx, txID)
}

func (c cancelAware) CompleteIntent(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Ledger.CompleteIntent(ctx, id)
}

type testEnv struct {
	mem        *store.MemoryStore
	payments   *fakePayments
	numbers    *fakeNumbers
	engagement *fakeEngagement
	notifier   *recordingNotifier

	executor   *Executor
	intents    *IntentManager
	handler    *ConfirmationHandler
	purchases  *PurchaseService
	topups     *TopUpService
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mem:        store.NewMemoryStore(),
		payments:   &fakePayments{},
		numbers:    &fakeNumbers{},
		engagement: &fakeEngagement{},
		notifier:   &recordingNotifier{},
	}
	env.wire(env.mem)
	t.Cleanup(env.executor.Close)
	return env
}

// wire (re)builds the services on top of ledger.
func (env *testEnv) wire(ledger Ledger) {
	logger := discardLogger()
	env.executor = NewExecutor(ledger, env.numbers, env.engagement, env.notifier,
		ExecutorConfig{CodeAttempts: 2, CodeInterval: time.Millisecond}, logger)
	env.intents = NewIntentManager(ledger, env.payments, logger)
	env.handler = NewConfirmationHandler(testSecret, ledger, env.intents, env.executor, env.engagement, env.notifier, logger)
	env.purchases = NewPurchaseService(ledger, env.intents, env.executor, env.engagement, logger)
	env.topups = NewTopUpService(ledger, env.intents, dec("5.00"))
	env.reconciler = NewReconciler(ledger, env.handler, env.payments, env.notifier, logger)
}

func (env *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := env.mem.GetUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("get user %s: %v", userID, err)
	}
	return u.Balance
}

func webhookBody(event, chargeID, txID, value string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"data":{"id":%q,"transaction_id":%q,"value":%s,"customer":{"tax_id":"12345678900"}}}`,
		event, chargeID, txID, value))
}
