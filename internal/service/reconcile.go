package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

type SweepOptions struct {
	Limit        int
	CheckPending bool
}

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Credited       int      `json:"credited"`
	Replayed       int      `json:"replayed"`
	ReplayFailed   int      `json:"replay_failed"`
	PaidButPending []string `json:"paid_but_pending,omitempty"`
}

// Reconciler repairs the partial states a crashed confirmation can leave:
// confirmed deposits never credited, and credited charges whose intent was
// never replayed.
type Reconciler struct {
	ledger   Ledger
	handler  *ConfirmationHandler
	payments PaymentProvider
	notifier Notifier
	logger   *slog.Logger
}

func NewReconciler(ledger Ledger, handler *ConfirmationHandler, payments PaymentProvider, notifier Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{ledger: ledger, handler: handler, payments: payments, notifier: notifier, logger: logger}
}

func (r *Reconciler) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	report := &SweepReport{}

	deposits, err := r.ledger.ListUncreditedDeposits(ctx, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list uncredited deposits: %w", err)
	}
	for _, dep := range deposits {
		balance, credited, err := r.ledger.CreditDeposit(ctx, dep.TxID)
		if err != nil {
			return report, fmt.Errorf("credit deposit %s: %w", dep.TxID, err)
		}
		if !credited {
			continue
		}
		report.Credited++
		depositsCredited.WithLabelValues("reconcile").Inc()
		r.logger.Info("reconciled uncredited deposit",
			"tx_id", dep.TxID, "user_id", dep.UserID, "amount", dep.PaidAmount.StringFixed(2))
		if _, err := r.ledger.GetWaitingIntent(ctx, dep.ChargeID); err != nil {
			deliver(ctx, r.notifier, r.logger, domain.Notification{
				Kind:    domain.NotifyDepositCredited,
				UserID:  dep.UserID,
				Amount:  dep.PaidAmount,
				Balance: balance,
			})
		}
	}

	intents, err := r.ledger.ListStrandedIntents(ctx, opts.Limit)
	if err != nil {
		return report, fmt.Errorf("list stranded intents: %w", err)
	}
	for i := range intents {
		outcome, _, err := r.handler.replay(ctx, &intents[i])
		if err != nil {
			return report, err
		}
		switch outcome {
		case OutcomeReplayed:
			report.Replayed++
		case OutcomeReplayFailed:
			report.ReplayFailed++
		}
	}

	if opts.CheckPending {
		pending, err := r.ledger.ListPendingDeposits(ctx, opts.Limit)
		if err != nil {
			return report, fmt.Errorf("list pending deposits: %w", err)
		}
		for _, dep := range pending {
			st, err := r.payments.ChargeStatus(ctx, dep.ChargeID)
			if err != nil {
				r.logger.Warn("charge status lookup failed", "charge_id", dep.ChargeID, "error", err)
				continue
			}
			if st.Paid {
				// Crediting still waits for the provider's notification.
				r.logger.Warn("provider reports paid charge with pending deposit",
					"charge_id", dep.ChargeID, "tx_id", dep.TxID, "user_id", dep.UserID)
				report.PaidButPending = append(report.PaidButPending, dep.TxID)
			}
		}
	}

	r.logger.Info("reconciliation finished",
		"credited", report.Credited, "replayed", report.Replayed,
		"replay_failed", report.ReplayFailed, "paid_but_pending", len(report.PaidButPending))
	return report, nil
}
