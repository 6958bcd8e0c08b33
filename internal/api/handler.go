package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/service"
	"github.com/punchamoorthee/autocheckout/internal/store"
)

// SignatureHeader is where the payment provider puts the body HMAC.
const SignatureHeader = "X-Paguepix-Signature"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})
)

type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte, signature string) (*service.Confirmation, error)
}

type Purchaser interface {
	Request(ctx context.Context, userID string, desc domain.PurchaseDescriptor) (*service.PurchaseResult, error)
}

type TopUps interface {
	Create(ctx context.Context, userID, rawAmount string) (*service.PendingCharge, error)
}

type UserReader interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error)
}

type Handler struct {
	webhooks  WebhookProcessor
	purchases Purchaser
	topups    TopUps
	users     UserReader
	logger    *slog.Logger
}

func NewHandler(webhooks WebhookProcessor, purchases Purchaser, topups TopUps, users UserReader, logger *slog.Logger) *Handler {
	return &Handler{
		webhooks:  webhooks,
		purchases: purchases,
		topups:    topups,
		users:     users,
		logger:    logger,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r *mux.Router) {
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/payments/webhook", h.PaymentWebhookHandler).Methods(http.MethodPost)
	v1.HandleFunc("/purchases", h.CreatePurchaseHandler).Methods(http.MethodPost)
	v1.HandleFunc("/deposits", h.CreateDepositHandler).Methods(http.MethodPost)
	v1.HandleFunc("/users/{id}", h.GetUserHandler).Methods(http.MethodGet)
	v1.HandleFunc("/users/{id}/orders", h.ListOrdersHandler).Methods(http.MethodGet)
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observe starts the latency timer for an endpoint and returns the function
// that records the final status.
func observe(method, endpoint string) func(code int) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(method, endpoint))
	return func(code int) {
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	}
}

// statusFor maps workflow errors onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrMalformedNotification):
		return http.StatusBadRequest, "Malformed notification"
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized, "Invalid signature"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, service.ErrUpstream):
		return http.StatusBadGateway, "Upstream provider error"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
