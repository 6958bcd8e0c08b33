package models

import (
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/autocheckout/internal/domain"
)

// PaymentWebhook is the notification body posted by the payment provider.
type PaymentWebhook struct {
	Event string             `json:"event"`
	Data  PaymentWebhookData `json:"data"`
}

type PaymentWebhookData struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transaction_id"`
	Value         decimal.Decimal `json:"value"`
	Customer      struct {
		TaxID string `json:"tax_id"`
	} `json:"customer"`
}

// WebhookAck is the body the provider expects to stop redelivery.
type WebhookAck struct {
	Success bool `json:"success"`
}

// PurchaseRequest is the internal purchase trigger sent by the chat layer.
type PurchaseRequest struct {
	UserID      string          `json:"user_id"`
	Kind        domain.Kind     `json:"kind"`
	Price       decimal.Decimal `json:"price"`
	ServiceName string          `json:"service_name,omitempty"`
	ServiceCode string          `json:"service_code,omitempty"`
	Country     string          `json:"country,omitempty"`
	ServiceID   string          `json:"service_id,omitempty"`
	Link        string          `json:"link,omitempty"`
	Quantity    int             `json:"quantity,omitempty"`
}

// Descriptor converts the request into the stored purchase descriptor.
func (r PurchaseRequest) Descriptor() domain.PurchaseDescriptor {
	return domain.PurchaseDescriptor{
		Kind:        r.Kind,
		Price:       r.Price,
		ServiceName: r.ServiceName,
		ServiceCode: r.ServiceCode,
		Country:     r.Country,
		ServiceID:   r.ServiceID,
		Link:        r.Link,
		Quantity:    r.Quantity,
	}
}

// ChargeView is what the chat layer needs to show a charge to the payer.
type ChargeView struct {
	ChargeID      string          `json:"charge_id"`
	TxID          string          `json:"tx_id"`
	Amount        decimal.Decimal `json:"amount"`
	QRImage       string          `json:"qr_image"`
	CopyPasteCode string          `json:"copy_paste_code"`
}

// PurchaseResponse reports either a fulfilled order or a pending charge.
type PurchaseResponse struct {
	Decision  string          `json:"decision"`
	Amount    decimal.Decimal `json:"amount"`
	Order     *domain.Order   `json:"order,omitempty"`
	Charge    *ChargeView     `json:"charge,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

// TopUpRequest asks for a plain balance top-up charge.
type TopUpRequest struct {
	UserID string `json:"user_id"`
	Amount string `json:"amount"`
}
