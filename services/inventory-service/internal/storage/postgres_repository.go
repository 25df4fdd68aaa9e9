package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mahmud-sazid/orderflow/libs/db"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/model"
)

// PostgresProductRepository is the Postgres-backed catalog, selected when
// DATABASE_URL is configured. The dedup mark and the decrement share one
// transaction, which gives the same exactly-once-per-token guarantee as the
// Redis script.
type PostgresProductRepository struct {
	pool *db.Pool
}

func NewPostgresProductRepository(pool *db.Pool) *PostgresProductRepository {
	return &PostgresProductRepository{pool: pool}
}

func (r *PostgresProductRepository) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name, price, quantity)
		VALUES ($1, $2, $3, $4)
	`, p.ID, p.Name, p.Price, p.Quantity)
	if err != nil {
		return fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return nil
}

func (r *PostgresProductRepository) Get(ctx context.Context, id string) (model.Product, error) {
	var p model.Product
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, price, quantity
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	return p, nil
}

func (r *PostgresProductRepository) List(ctx context.Context) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, price, quantity
		FROM products
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

func (r *PostgresProductRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresProductRepository) DeductStock(ctx context.Context, id string, qty int, token string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_deductions (dedup_token)
		VALUES ($1)
	`, token)
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("record deduction %s: %w", token, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE products SET quantity = quantity - $2 WHERE id = $1
	`, id, qty)
	if err != nil {
		return false, fmt.Errorf("deduct stock for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return false, ErrNotFound
	}
	return true, tx.Commit(ctx)
}
