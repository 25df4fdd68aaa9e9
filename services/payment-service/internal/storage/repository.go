package storage

import (
	"context"
	"errors"

	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrIllegalTransition is returned when a status write would regress the
	// order lifecycle (e.g. refunding an order that was never completed).
	ErrIllegalTransition = errors.New("illegal status transition")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// OrderStore is the order boundary shared by the HTTP handlers, the capture
// worker and the refund consumer.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, id string) (model.Order, error)
	List(ctx context.Context) ([]model.Order, error)

	// UpdateStatus moves the order from one status to another, enforcing that
	// the lifecycle never regresses. It reports whether the write changed
	// anything: false with a nil error means the order was already in the
	// target status (a replayed transition).
	UpdateStatus(ctx context.Context, id, from, to string) (bool, error)
}
