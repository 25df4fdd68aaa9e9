package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/mahmud-sazid/orderflow/libs/db"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
)

// PostgresOrderRepository is the Postgres-backed order store, selected when
// DATABASE_URL is configured. The conditional UPDATE gives the same
// no-regression guarantee as the Redis script.
type PostgresOrderRepository struct {
	pool *db.Pool
}

func NewPostgresOrderRepository(pool *db.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{pool: pool}
}

func (r *PostgresOrderRepository) Create(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO orders (id, product_id, price, fee, total, quantity, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, o.ID, o.ProductID, o.Price, o.Fee, o.Total, o.Quantity, o.Status)
	if err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

func (r *PostgresOrderRepository) Get(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, product_id, price, fee, total, quantity, status
		FROM orders
		WHERE id = $1
	`, id).Scan(&o.ID, &o.ProductID, &o.Price, &o.Fee, &o.Total, &o.Quantity, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *PostgresOrderRepository) List(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_id, price, fee, total, quantity, status
		FROM orders
	`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Price, &o.Fee, &o.Total, &o.Quantity, &o.Status); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, id, from, to string) (bool, error) {
	if !model.ValidTransition(from, to) {
		return false, fmt.Errorf("order %s: %s -> %s: %w", id, from, to, ErrIllegalTransition)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE orders SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if cur.Status == to {
		return false, nil
	}
	return false, fmt.Errorf("order %s: %s -> %s (currently %s): %w", id, from, to, cur.Status, ErrIllegalTransition)
}
