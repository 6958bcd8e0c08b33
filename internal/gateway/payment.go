package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Charge is a provider-issued payment request shown to the payer.
type Charge struct {
	ID            string          `json:"id"`
	TxID          string          `json:"tx_id"`
	Amount        decimal.Decimal `json:"amount"`
	QRImage       string          `json:"qr_image"`
	CopyPasteCode string          `json:"copy_paste_code"`
	Status        string          `json:"status"`
	ExpiresAt     string          `json:"expires_at,omitempty"`
}

// ChargeStatus is the provider's current view of a charge.
type ChargeStatus struct {
	ID     string
	Status string
	Paid   bool
}

// PaymentClient talks to the Pix charge provider.
type PaymentClient struct {
	http    *httpClient
	baseURL string
	apiKey  string
	pixKey  string
	ttl     time.Duration
}

func NewPaymentClient(baseURL, apiKey, pixKey string, ttl time.Duration, opts Options) *PaymentClient {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &PaymentClient{
		http:    newHTTPClient("payment", opts),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		pixKey:  pixKey,
		ttl:     ttl,
	}
}

type chargeRequest struct {
	Value       string         `json:"value"`
	Description string         `json:"description"`
	PixKey      string         `json:"pix_key"`
	Customer    chargeCustomer `json:"customer"`
	ExpiresIn   int            `json:"expires_in"`
}

type chargeCustomer struct {
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}

type chargeResponse struct {
	ID            flexString `json:"id"`
	TransactionID flexString `json:"transaction_id"`
	QRCodeBase64  string     `json:"qr_code_base64"`
	BRCode        string     `json:"brcode"`
	QRCode        string     `json:"qr_code"`
	Status        string     `json:"status"`
	ExpiresAt     string     `json:"expires_at"`
}

// CreateCharge issues a new charge for amount. It is not idempotent: each
// call creates a distinct charge upstream.
func (c *PaymentClient) CreateCharge(ctx context.Context, amount decimal.Decimal, payerRef, memo string) (*Charge, error) {
	req := chargeRequest{
		Value:       amount.StringFixed(2),
		Description: memo,
		PixKey:      c.pixKey,
		Customer:    chargeCustomer{Name: "Customer " + payerRef, TaxID: payerRef},
		ExpiresIn:   int(c.ttl.Seconds()),
	}
	body, err := c.http.postJSON(ctx, c.baseURL+"/charges", req, c.authHeader())
	if err != nil {
		return nil, err
	}

	var resp chargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: payment: decode charge: %v", ErrProvider, err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: payment: charge response without id", ErrProvider)
	}

	charge := &Charge{
		ID:            string(resp.ID),
		TxID:          string(resp.TransactionID),
		Amount:        amount,
		QRImage:       resp.QRCodeBase64,
		CopyPasteCode: resp.BRCode,
		Status:        resp.Status,
		ExpiresAt:     resp.ExpiresAt,
	}
	if charge.TxID == "" {
		charge.TxID = charge.ID
	}
	if charge.CopyPasteCode == "" {
		charge.CopyPasteCode = resp.QRCode
	}
	return charge, nil
}

// ChargeStatus queries the provider for the state of one charge.
func (c *PaymentClient) ChargeStatus(ctx context.Context, chargeID string) (*ChargeStatus, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/charges/"+url.PathEscape(chargeID), nil)
	if err != nil {
		return nil, fmt.Errorf("payment: build request: %w", err)
	}
	req.Header = c.authHeader()

	body, err := c.http.do(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp chargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: payment: decode status: %v", ErrProvider, err)
	}
	return &ChargeStatus{
		ID:     string(resp.ID),
		Status: resp.Status,
		Paid:   IsPaidStatus(resp.Status),
	}, nil
}

func (c *PaymentClient) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	return h
}

// IsPaidStatus reports whether a charge status means the money arrived.
func IsPaidStatus(status string) bool {
	switch strings.ToLower(status) {
	case "paid", "confirmed", "completed":
		return true
	}
	return false
}

// IsPaidEvent reports whether a webhook event kind confirms payment.
func IsPaidEvent(event string) bool {
	return event == "charge.paid" || event == "charge.confirmed"
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature over the raw body in
// constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
