package model

// OrderStatus is a state of the offramp order state machine:
//
//	awaiting_deposit -> confirming -> paid_out -> settled
//
// with failed and expired reachable from every non-terminal state.
type OrderStatus string

const (
	OrderAwaitingDeposit OrderStatus = "awaiting_deposit"
	OrderConfirming      OrderStatus = "confirming"
	OrderPaidOut         OrderStatus = "paid_out"
	OrderSettled         OrderStatus = "settled"
	OrderFailed          OrderStatus = "failed"
	OrderExpired         OrderStatus = "expired"
)

var orderRank = map[OrderStatus]int{
	OrderAwaitingDeposit: 0,
	OrderConfirming:      1,
	OrderPaidOut:         2,
	OrderSettled:         3,
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderSettled || s == OrderFailed || s == OrderExpired
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderRank[s]
	return ok || s == OrderFailed || s == OrderExpired
}

// CanTransition reports whether an order may move from one status to another.
// Forward moves along the happy path must be exactly one step; failed and
// expired are reachable from any non-terminal status. Nothing leaves a
// terminal status and nothing moves backwards.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() || from == to {
		return false
	}
	if to == OrderFailed || to == OrderExpired {
		return true
	}
	return orderRank[to] == orderRank[from]+1
}

// AllowedFrom lists every status from which to is reachable.
func AllowedFrom(to OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, from := range []OrderStatus{OrderAwaitingDeposit, OrderConfirming, OrderPaidOut} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
