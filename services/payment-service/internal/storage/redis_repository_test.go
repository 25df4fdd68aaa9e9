package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/redis/go-redis/v9"
)

func newTestRepo(t *testing.T) *RedisOrderRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisOrderRepository(client)
}

func pendingOrder() model.Order {
	return model.Order{
		ProductID: "P1",
		Price:     10,
		Fee:       2,
		Total:     12,
		Quantity:  3,
		Status:    saga.StatusPending,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	o := pendingOrder()
	if err := repo.Create(ctx, &o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if o.ID == "" {
		t.Fatal("expected an assigned id")
	}

	got, err := repo.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ProductID != "P1" || got.Total != 12 || got.Status != saga.StatusPending {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGetMissingOrder(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	if !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestStatusLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	o := pendingOrder()
	if err := repo.Create(ctx, &o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	changed, err := repo.UpdateStatus(ctx, o.ID, saga.StatusPending, saga.StatusCompleted)
	if err != nil || !changed {
		t.Fatalf("pending->completed: changed=%v err=%v", changed, err)
	}

	changed, err = repo.UpdateStatus(ctx, o.ID, saga.StatusCompleted, saga.StatusRefunded)
	if err != nil || !changed {
		t.Fatalf("completed->refunded: changed=%v err=%v", changed, err)
	}

	// Replayed transition is a no-op, not an error.
	changed, err = repo.UpdateStatus(ctx, o.ID, saga.StatusCompleted, saga.StatusRefunded)
	if err != nil {
		t.Fatalf("replayed transition errored: %v", err)
	}
	if changed {
		t.Fatal("replayed transition must not report a change")
	}

	// refunded is terminal: the status never regresses.
	_, err = repo.UpdateStatus(ctx, o.ID, saga.StatusRefunded, saga.StatusPending)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	got, _ := repo.Get(ctx, o.ID)
	if got.Status != saga.StatusRefunded {
		t.Fatalf("status regressed to %s", got.Status)
	}
}

func TestUpdateStatusMissingOrder(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.UpdateStatus(context.Background(), "ghost", saga.StatusCompleted, saga.StatusRefunded)
	if !IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListOrders(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		o := pendingOrder()
		if err := repo.Create(ctx, &o); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	orders, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
}
