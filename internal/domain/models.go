package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies what a purchase buys from the upstream providers.
type Kind string

const (
	KindNumberRental Kind = "number_rental"
	KindEngagement   Kind = "engagement"
)

type DepositStatus string

const (
	DepositPending   DepositStatus = "pending"
	DepositConfirmed DepositStatus = "confirmed"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderFailed    OrderStatus = "failed"
)

type IntentStatus string

const (
	IntentWaitingPayment IntentStatus = "waiting_payment"
	IntentCompleted      IntentStatus = "completed"
)

// User holds the prepaid balance of one external (chat) identity.
type User struct {
	ID        string          `json:"id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// Deposit is one externally initiated payment attempt.
// TxID is unique; the row moves pending -> confirmed once, and CreditedAt
// is set once the confirmed amount has reached the user's balance.
type Deposit struct {
	TxID        string          `json:"tx_id"`
	ChargeID    string          `json:"charge_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      DepositStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	CreditedAt  *time.Time      `json:"credited_at,omitempty"`
}

// Credited reports whether the balance credit for this deposit happened.
func (d *Deposit) Credited() bool {
	return d.CreditedAt != nil
}

// PurchaseDescriptor is everything needed to (re)issue a purchase upstream.
type PurchaseDescriptor struct {
	Kind        Kind            `json:"kind"`
	Price       decimal.Decimal `json:"price"`
	ServiceName string          `json:"service_name,omitempty"`

	// number rental
	ServiceCode string `json:"service_code,omitempty"`
	Country     string `json:"country,omitempty"`

	// engagement
	ServiceID string `json:"service_id,omitempty"`
	Link      string `json:"link,omitempty"`
	Quantity  int    `json:"quantity,omitempty"`
}

// Validate checks the kind-specific fields. Provider bounds (min/max
// quantity) are checked separately against the live catalog.
func (p PurchaseDescriptor) Validate() error {
	if !p.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", p.Price)
	}
	switch p.Kind {
	case KindNumberRental:
		if strings.TrimSpace(p.ServiceCode) == "" {
			return fmt.Errorf("service_code is required for %s", p.Kind)
		}
	case KindEngagement:
		if strings.TrimSpace(p.ServiceID) == "" {
			return fmt.Errorf("service_id is required for %s", p.Kind)
		}
		if strings.TrimSpace(p.Link) == "" {
			return fmt.Errorf("link is required for %s", p.Kind)
		}
		if p.Quantity <= 0 {
			return fmt.Errorf("quantity must be positive, got %d", p.Quantity)
		}
	default:
		return fmt.Errorf("unknown purchase kind %q", p.Kind)
	}
	return nil
}

// Order is one purchase issued against a provider.
type Order struct {
	ID         uuid.UUID          `json:"id"`
	UserID     string             `json:"user_id"`
	Kind       Kind               `json:"kind"`
	Descriptor PurchaseDescriptor `json:"descriptor"`
	Amount     decimal.Decimal    `json:"amount"`
	Status     OrderStatus        `json:"status"`
	Result     json.RawMessage    `json:"result,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// OrderResult is the payload stored on an Order once the provider answered.
type OrderResult struct {
	ActivationID    string `json:"activation_id,omitempty"`
	PhoneNumber     string `json:"phone_number,omitempty"`
	CodeStatus      string `json:"code_status,omitempty"`
	Code            string `json:"code,omitempty"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

const (
	CodeWaiting  = "waiting"
	CodeReceived = "received"
	CodeTimeout  = "timeout"
	CodeEnded    = "ended"
)

// DeferredIntent is a stored promise to replay Descriptor once the charge
// identified by ChargeID is paid. At most one intent per charge id may be
// waiting for payment.
type DeferredIntent struct {
	ID          uuid.UUID          `json:"id"`
	UserID      string             `json:"user_id"`
	ChargeID    string             `json:"charge_id"`
	Descriptor  PurchaseDescriptor `json:"descriptor"`
	Shortfall   decimal.Decimal    `json:"shortfall"`
	Status      IntentStatus       `json:"status"`
	OrderID     *uuid.UUID         `json:"order_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}
