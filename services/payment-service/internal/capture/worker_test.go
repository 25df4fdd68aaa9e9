package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
)

type failingCharger struct {
	calls int
}

func (c *failingCharger) ProviderID() string { return "failing" }

func (c *failingCharger) Charge(_ context.Context, _ model.Order) error {
	c.calls++
	return errors.New("provider unavailable")
}

func newTestWorker(t *testing.T, charger Charger) (*Worker, *storage.RedisOrderRepository, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := storage.NewRedisOrderRepository(client)
	log := eventlog.New(client)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(client, repo, log, charger, logger, Config{
		Interval:     time.Millisecond,
		CaptureDelay: 0,
	})
	return w, repo, client
}

func createOrder(t *testing.T, repo *storage.RedisOrderRepository, status string) model.Order {
	t.Helper()
	o := model.Order{
		ProductID: "P1",
		Price:     10,
		Fee:       2,
		Total:     12,
		Quantity:  3,
		Status:    status,
	}
	if err := repo.Create(context.Background(), &o); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return o
}

func completedRecords(t *testing.T, client *redis.Client) []redis.XMessage {
	t.Helper()
	msgs, err := client.XRange(context.Background(), saga.TopicOrderCompleted, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange failed: %v", err)
	}
	return msgs
}

func TestCapturePendingOrder(t *testing.T) {
	w, repo, client := newTestWorker(t, NewNoopCharger())
	ctx := context.Background()

	o := createOrder(t, repo, saga.StatusPending)
	if err := w.Schedule(ctx, o.ID); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if err := w.processDue(ctx); err != nil {
		t.Fatalf("processDue failed: %v", err)
	}

	got, err := repo.Get(ctx, o.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != saga.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	msgs := completedRecords(t, client)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 completion record, got %d", len(msgs))
	}
	fields := msgs[0].Values
	if fields[saga.FieldOrderID] != o.ID || fields[saga.FieldStatus] != saga.StatusCompleted {
		t.Fatalf("unexpected record fields: %v", fields)
	}
	if fields[saga.FieldTotal] != "12" || fields[saga.FieldQuantity] != "3" {
		t.Fatalf("unexpected amounts: %v", fields)
	}

	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 0 {
		t.Fatalf("expected empty due set, got %d entries", left)
	}
}

func TestChargeFailureRetries(t *testing.T) {
	charger := &failingCharger{}
	w, repo, client := newTestWorker(t, charger)
	ctx := context.Background()

	o := createOrder(t, repo, saga.StatusPending)
	if err := w.Schedule(ctx, o.ID); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	// Two ticks: both attempts fail and the order stays queued and pending.
	for i := 0; i < 2; i++ {
		if err := w.processDue(ctx); err != nil {
			t.Fatalf("processDue failed: %v", err)
		}
	}

	if charger.calls != 2 {
		t.Fatalf("expected 2 charge attempts, got %d", charger.calls)
	}
	got, _ := repo.Get(ctx, o.ID)
	if got.Status != saga.StatusPending {
		t.Fatalf("order left pending on failure, got %s", got.Status)
	}
	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 1 {
		t.Fatalf("failed order must stay queued, got %d entries", left)
	}
}

func TestRefundedOrderSkipsCapture(t *testing.T) {
	charger := &failingCharger{}
	w, repo, client := newTestWorker(t, charger)
	ctx := context.Background()

	o := createOrder(t, repo, saga.StatusRefunded)
	if err := w.Schedule(ctx, o.ID); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := w.processDue(ctx); err != nil {
		t.Fatalf("processDue failed: %v", err)
	}

	if charger.calls != 0 {
		t.Fatal("refunded order must not be charged")
	}
	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 0 {
		t.Fatalf("refunded order must be dequeued, got %d entries", left)
	}
}

// racingCharger simulates a second worker instance completing the order
// while this instance's charge is still in flight.
type racingCharger struct {
	repo *storage.RedisOrderRepository
}

func (c *racingCharger) ProviderID() string { return "racing" }

func (c *racingCharger) Charge(ctx context.Context, order model.Order) error {
	_, err := c.repo.UpdateStatus(ctx, order.ID, saga.StatusPending, saga.StatusCompleted)
	return err
}

func TestLostTransitionRaceStillPublishes(t *testing.T) {
	charger := &racingCharger{}
	w, repo, client := newTestWorker(t, charger)
	charger.repo = repo
	ctx := context.Background()

	// The racing instance wrote the status but may have crashed before its
	// publish; this instance must not dequeue without appending a completion
	// record of its own.
	o := createOrder(t, repo, saga.StatusPending)
	if err := w.Schedule(ctx, o.ID); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := w.processDue(ctx); err != nil {
		t.Fatalf("processDue failed: %v", err)
	}

	msgs := completedRecords(t, client)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 completion record, got %d", len(msgs))
	}
	if msgs[0].Values[saga.FieldOrderID] != o.ID {
		t.Fatalf("unexpected record fields: %v", msgs[0].Values)
	}
	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 0 {
		t.Fatalf("expected empty due set, got %d entries", left)
	}
}

func TestCompletedOrderRepublishes(t *testing.T) {
	w, repo, client := newTestWorker(t, NewNoopCharger())
	ctx := context.Background()

	// Simulates a crash after the status transition but before dequeue.
	o := createOrder(t, repo, saga.StatusCompleted)
	if err := w.Schedule(ctx, o.ID); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := w.processDue(ctx); err != nil {
		t.Fatalf("processDue failed: %v", err)
	}

	msgs := completedRecords(t, client)
	if len(msgs) != 1 {
		t.Fatalf("expected re-published record, got %d", len(msgs))
	}
	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 0 {
		t.Fatalf("expected empty due set, got %d entries", left)
	}
}

func TestMissingOrderDequeued(t *testing.T) {
	w, _, client := newTestWorker(t, NewNoopCharger())
	ctx := context.Background()

	if err := w.Schedule(ctx, "ghost"); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if err := w.processDue(ctx); err != nil {
		t.Fatalf("processDue failed: %v", err)
	}
	left, _ := client.ZCard(ctx, dueSetKey).Result()
	if left != 0 {
		t.Fatalf("missing order must be dequeued, got %d entries", left)
	}
}
