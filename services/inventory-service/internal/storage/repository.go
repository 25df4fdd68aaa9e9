package storage

import (
	"context"
	"errors"

	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/model"
)

var ErrNotFound = errors.New("product not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ProductStore is the catalog boundary the HTTP handlers and the deduction
// consumer share. Entity writes are last-writer-wins; each product is touched
// by at most one saga step at a time in the intended flow.
type ProductStore interface {
	Create(ctx context.Context, p *model.Product) error
	Get(ctx context.Context, id string) (model.Product, error)
	List(ctx context.Context) ([]model.Product, error)
	Delete(ctx context.Context, id string) error

	// DeductStock decrements the product's quantity by qty at most once per
	// dedup token, atomically with recording the token. It reports whether
	// the decrement was applied (false means the token was already seen) and
	// returns ErrNotFound when the product does not exist.
	DeductStock(ctx context.Context, id string, qty int, token string) (bool, error)
}
