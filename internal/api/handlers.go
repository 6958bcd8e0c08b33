package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/models"
	"github.com/punchamoorthee/autocheckout/internal/service"
)

const maxWebhookBytes = 1 << 20

func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	done := observe("POST", "/payments/webhook")

	// The signature covers the exact bytes received.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		done(http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Stream read error")
		return
	}

	conf, err := h.webhooks.Handle(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("payment notification failed", "error", err)
		}
		done(code)
		respondWithError(w, code, msg)
		return
	}

	h.logger.Debug("payment notification handled", "outcome", conf.Outcome, "tx_id", conf.TxID)
	done(http.StatusOK)
	respondWithJSON(w, http.StatusOK, models.WebhookAck{Success: true})
}

func (h *Handler) CreatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	done := observe("POST", "/purchases")

	var req models.PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		done(http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	res, err := h.purchases.Request(r.Context(), req.UserID, req.Descriptor())
	if err != nil {
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("purchase failed", "user_id", req.UserID, "error", err)
		}
		// a failed upstream purchase still has an order worth showing
		if res != nil && res.Order != nil {
			done(code)
			respondWithJSON(w, code, map[string]any{"error": msg, "order": res.Order})
			return
		}
		done(code)
		respondWithError(w, code, msg)
		return
	}

	resp := models.PurchaseResponse{
		Decision: string(res.Decision.Action),
		Amount:   res.Decision.Amount,
		Order:    res.Order,
		Balance:  res.Balance,
	}
	code := http.StatusCreated
	if res.Pending != nil {
		resp.Charge = chargeView(res.Pending)
		resp.Shortfall = res.Decision.Amount
		code = http.StatusAccepted
	}
	done(code)
	respondWithJSON(w, code, resp)
}

func (h *Handler) CreateDepositHandler(w http.ResponseWriter, r *http.Request) {
	done := observe("POST", "/deposits")

	var req models.TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		done(http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	pending, err := h.topups.Create(r.Context(), req.UserID, req.Amount)
	if err != nil {
		code, msg := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("top-up failed", "user_id", req.UserID, "error", err)
		}
		done(code)
		respondWithError(w, code, msg)
		return
	}

	done(http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, chargeView(pending))
}

func (h *Handler) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	done := observe("GET", "/users/{id}")

	user, err := h.users.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		code, msg := statusFor(err)
		done(code)
		respondWithError(w, code, msg)
		return
	}

	done(http.StatusOK)
	respondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	done := observe("GET", "/users/{id}/orders")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			done(http.StatusBadRequest)
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	userID := mux.Vars(r)["id"]
	if _, err := h.users.GetUser(r.Context(), userID); err != nil {
		code, msg := statusFor(err)
		done(code)
		respondWithError(w, code, msg)
		return
	}
	orders, err := h.users.ListOrders(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list orders failed", "user_id", userID, "error", err)
		done(http.StatusInternalServerError)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	done(http.StatusOK)
	respondWithJSON(w, http.StatusOK, orders)
}

func chargeView(p *service.PendingCharge) *models.ChargeView {
	return &models.ChargeView{
		ChargeID:      p.Charge.ID,
		TxID:          p.Charge.TxID,
		Amount:        p.Charge.Amount,
		QRImage:       p.Charge.QRImage,
		CopyPasteCode: p.Charge.CopyPasteCode,
	}
}
