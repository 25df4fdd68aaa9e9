package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	productKeyPrefix = "product:"
	productIndexKey  = "products"
	deductKeyPrefix  = "deducted:inventory_group:"
)

// deductScript applies the stock decrement and the dedup mark in one atomic
// step, so a crash between "apply" and "remember" cannot cause a redelivered
// record to decrement twice.
//
// KEYS[1] product hash, KEYS[2] dedup key; ARGV[1] negated quantity.
// Returns -1 when the product does not exist, 0 on replay, 1 when applied.
var deductScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("SETNX", KEYS[2], "1") == 0 then
  return 0
end
redis.call("HINCRBY", KEYS[1], "quantity", ARGV[1])
return 1
`)

// RedisProductRepository stores products as Redis hashes with a set index for
// listing, matching the layout the order service reads through the catalog
// API.
type RedisProductRepository struct {
	client *redis.Client
}

func NewRedisProductRepository(client *redis.Client) *RedisProductRepository {
	return &RedisProductRepository{client: client}
}

func (r *RedisProductRepository) Create(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, productKeyPrefix+p.ID, *p)
	pipe.SAdd(ctx, productIndexKey, p.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create product %s: %w", p.ID, err)
	}
	return nil
}

func (r *RedisProductRepository) Get(ctx context.Context, id string) (model.Product, error) {
	res := r.client.HGetAll(ctx, productKeyPrefix+id)
	if err := res.Err(); err != nil {
		return model.Product{}, fmt.Errorf("get product %s: %w", id, err)
	}
	if len(res.Val()) == 0 {
		return model.Product{}, ErrNotFound
	}
	var p model.Product
	if err := res.Scan(&p); err != nil {
		return model.Product{}, fmt.Errorf("scan product %s: %w", id, err)
	}
	return p, nil
}

func (r *RedisProductRepository) List(ctx context.Context) ([]model.Product, error) {
	ids, err := r.client.SMembers(ctx, productIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		p, err := r.Get(ctx, id)
		if IsNotFound(err) {
			// Deleted concurrently; drop the stale index entry.
			_ = r.client.SRem(ctx, productIndexKey, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (r *RedisProductRepository) Delete(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, productKeyPrefix+id)
	pipe.SRem(ctx, productIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisProductRepository) DeductStock(ctx context.Context, id string, qty int, token string) (bool, error) {
	res, err := deductScript.Run(ctx, r.client,
		[]string{productKeyPrefix + id, deductKeyPrefix + token},
		-qty,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("deduct stock for %s: %w", id, err)
	}
	switch res {
	case -1:
		return false, ErrNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}
