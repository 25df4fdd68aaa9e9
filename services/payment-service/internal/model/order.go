package model

import "github.com/mahmud-sazid/orderflow/libs/saga"

// Order is the payment-side record of a purchase. Status walks
// pending -> completed -> refunded and never regresses; refunded is terminal.
type Order struct {
	ID        string  `json:"id" redis:"id"`
	ProductID string  `json:"product_id" redis:"product_id"`
	Price     float64 `json:"price" redis:"price"`
	Fee       float64 `json:"fee" redis:"fee"`
	Total     float64 `json:"total" redis:"total"`
	Quantity  int     `json:"quantity" redis:"quantity"`
	Status    string  `json:"status" redis:"status"`
}

// ValidTransition reports whether an order may move from one status to
// another. Same-status writes are allowed so replayed transitions are no-ops.
func ValidTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case saga.StatusPending:
		return to == saga.StatusCompleted
	case saga.StatusCompleted:
		return to == saga.StatusRefunded
	default:
		return false
	}
}
