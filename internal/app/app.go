package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/autocheckout/internal/config"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
	"github.com/punchamoorthee/autocheckout/internal/notify"
	"github.com/punchamoorthee/autocheckout/internal/service"
	"github.com/punchamoorthee/autocheckout/internal/store"
)

// App holds the wired workflow shared by the server and the CLI.
type App struct {
	Ledger   service.Ledger
	Payments *gateway.PaymentClient

	Executor      *service.Executor
	Intents       *service.IntentManager
	Confirmations *service.ConfirmationHandler
	Purchases     *service.PurchaseService
	TopUps        *service.TopUpService
	Reconciler    *service.Reconciler

	pg *store.LedgerStore
}

// New builds the workflow on Postgres, or on the in-memory store when
// DB_SOURCE is empty.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}
	if cfg.DBSource == "" {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("DB_SOURCE is required in production")
		}
		logger.Warn("DB_SOURCE not set, using in-memory ledger")
		a.Ledger = store.NewMemoryStore()
	} else {
		pool, err := store.Connect(ctx, cfg.DBSource)
		if err != nil {
			return nil, err
		}
		a.pg = store.NewLedgerStore(pool)
		a.Ledger = a.pg
	}

	opts := gateway.Options{Timeout: cfg.ProviderTimeout, RPS: cfg.ProviderRPS}
	a.Payments = gateway.NewPaymentClient(cfg.PaymentAPIURL, cfg.PaymentAPIKey, cfg.PaymentPixKey, cfg.ChargeTTL, opts)
	numbers := gateway.NewNumberClient(cfg.SMSAPIURL, cfg.SMSAPIKey, cfg.SMSCountry, opts)
	engagement := gateway.NewEngagementClient(cfg.EngagementAPIURL, cfg.EngagementAPIKey, opts)

	var notifier service.Notifier = notify.NewLogSink(logger)
	if cfg.NotifyURL != "" {
		notifier = notify.NewHTTPSink(cfg.NotifyURL, cfg.NotifySecret, cfg.ProviderTimeout)
	}

	a.Executor = service.NewExecutor(a.Ledger, numbers, engagement, notifier, service.ExecutorConfig{
		CodeAttempts: cfg.SMSCodeAttempts,
		CodeInterval: cfg.SMSCodeInterval,
	}, logger)
	a.Intents = service.NewIntentManager(a.Ledger, a.Payments, logger)
	a.Confirmations = service.NewConfirmationHandler(cfg.PaymentWebhookSecret, a.Ledger, a.Intents, a.Executor, engagement, notifier, logger)
	a.Purchases = service.NewPurchaseService(a.Ledger, a.Intents, a.Executor, engagement, logger)
	a.TopUps = service.NewTopUpService(a.Ledger, a.Intents, cfg.MinTopUp)
	a.Reconciler = service.NewReconciler(a.Ledger, a.Confirmations, a.Payments, notifier, logger)
	return a, nil
}

// Postgres returns the Postgres store, or nil when running in memory.
func (a *App) Postgres() *store.LedgerStore {
	return a.pg
}

// Close stops background work, then releases the database pool.
func (a *App) Close() {
	a.Executor.Close()
	if a.pg != nil {
		a.pg.Close()
	}
}
