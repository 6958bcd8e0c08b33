package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type NotificationKind string

const (
	NotifyDepositCredited NotificationKind = "deposit_credited"
	NotifyReplayStarted   NotificationKind = "replay_started"
	NotifyOrderFulfilled  NotificationKind = "order_fulfilled"
	NotifyOrderFailed     NotificationKind = "order_failed"
	NotifyCodeReceived    NotificationKind = "code_received"
	NotifyCodeTimeout     NotificationKind = "code_timeout"
)

// Notification is a "tell this user something" event. Delivery to the chat
// transport belongs to an external dispatcher.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	UserID    string           `json:"user_id"`
	Amount    decimal.Decimal  `json:"amount"`
	Balance   decimal.Decimal  `json:"balance"`
	Order     *Order           `json:"order,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
