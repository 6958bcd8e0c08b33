package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_webhook_outcomes_total",
		Help: "Payment notifications processed, labeled by outcome",
	}, []string{"outcome"})

	depositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_deposits_credited_total",
		Help: "Deposits credited to a balance, labeled by the path that credited them",
	}, []string{"source"})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_replays_total",
		Help: "Deferred purchases replayed after payment, labeled by result",
	}, []string{"result"})

	ordersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_total",
		Help: "Orders settled by the executor, labeled by kind and status",
	}, []string{"kind", "status"})

	codeWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_verification_code_waits_total",
		Help: "Verification code waits, labeled by result",
	}, []string{"result"})

	unpaidDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_unpaid_deliveries_total",
		Help: "Provider orders placed whose debit then failed and could not be compensated",
	})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_upstream_call_duration_seconds",
		Help:    "Latency of purchase calls to upstream providers",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})
)
