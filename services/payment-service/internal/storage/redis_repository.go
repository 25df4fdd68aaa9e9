package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	orderKeyPrefix = "order:"
	orderIndexKey  = "orders"
)

// transitionScript is a conditional status write: it only moves the order
// forward when the current status matches the expected one.
// Returns -2 when the order is missing, 1 when the status changed, 0 when it
// already held the target value, -1 when the transition would be illegal.
var transitionScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -2
end
local cur = redis.call("HGET", KEYS[1], "status")
if cur == ARGV[1] then
  redis.call("HSET", KEYS[1], "status", ARGV[2])
  return 1
end
if cur == ARGV[2] then
  return 0
end
return -1
`)

type RedisOrderRepository struct {
	client *redis.Client
}

func NewRedisOrderRepository(client *redis.Client) *RedisOrderRepository {
	return &RedisOrderRepository{client: client}
}

func (r *RedisOrderRepository) Create(ctx context.Context, o *model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, orderKeyPrefix+o.ID, *o)
	pipe.SAdd(ctx, orderIndexKey, o.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return nil
}

func (r *RedisOrderRepository) Get(ctx context.Context, id string) (model.Order, error) {
	res := r.client.HGetAll(ctx, orderKeyPrefix+id)
	if err := res.Err(); err != nil {
		return model.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	if len(res.Val()) == 0 {
		return model.Order{}, ErrNotFound
	}
	var o model.Order
	if err := res.Scan(&o); err != nil {
		return model.Order{}, fmt.Errorf("scan order %s: %w", id, err)
	}
	return o, nil
}

func (r *RedisOrderRepository) List(ctx context.Context) ([]model.Order, error) {
	ids, err := r.client.SMembers(ctx, orderIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *RedisOrderRepository) UpdateStatus(ctx context.Context, id, from, to string) (bool, error) {
	if !model.ValidTransition(from, to) {
		return false, fmt.Errorf("order %s: %s -> %s: %w", id, from, to, ErrIllegalTransition)
	}
	res, err := transitionScript.Run(ctx, r.client, []string{orderKeyPrefix + id}, from, to).Int64()
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", id, err)
	}
	switch res {
	case -2:
		return false, ErrNotFound
	case -1:
		return false, fmt.Errorf("order %s: %s -> %s: %w", id, from, to, ErrIllegalTransition)
	case 0:
		return false, nil
	default:
		return true, nil
	}
}
