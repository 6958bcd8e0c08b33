package service

import "github.com/shopspring/decimal"

type Action string

const (
	ActionFulfill Action = "fulfill"
	ActionDefer   Action = "defer"
)

// Decision says whether a purchase runs now (Amount is the price) or waits
// for a charge (Amount is the shortfall).
type Decision struct {
	Action Action          `json:"action"`
	Amount decimal.Decimal `json:"amount"`
}

// Evaluate decides a purchase from the balance as read right now. Callers
// must pass a freshly fetched balance.
func Evaluate(balance, price decimal.Decimal) Decision {
	if balance.GreaterThanOrEqual(price) {
		return Decision{Action: ActionFulfill, Amount: price}
	}
	return Decision{Action: ActionDefer, Amount: price.Sub(balance)}
}
