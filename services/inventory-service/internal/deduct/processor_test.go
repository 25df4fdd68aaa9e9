package deduct

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

func newTestHandler(t *testing.T) (*Handler, *eventlog.Log, *storage.RedisProductRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := eventlog.New(client)
	inbox := eventlog.NewInbox(client, "inventory", time.Hour)
	repo := storage.NewRedisProductRepository(client)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(repo, inbox, logger), log, repo
}

func claimAll(t *testing.T, log *eventlog.Log, topic, group string) []eventlog.Event {
	t.Helper()
	ctx := context.Background()
	if err := log.CreateGroup(ctx, topic, group, "0"); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	events, err := log.Claim(ctx, topic, group, "test", 100, 0)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	return events
}

func TestDeductsStockAndAcks(t *testing.T) {
	h, log, repo := newTestHandler(t)
	ctx := context.Background()

	p := model.Product{ID: "P1", Name: "widget", Price: 5, Quantity: 10}
	if err := repo.Create(ctx, &p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ev := eventlog.Event{
		Topic:  saga.TopicOrderCompleted,
		ID:     "1-0",
		Fields: saga.OrderCompletedFields("O1", "P1", 3, 5, 1, 6),
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got, err := repo.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Quantity != 7 {
		t.Fatalf("expected quantity 7, got %d", got.Quantity)
	}

	// Success path appends no refund record.
	ok, err := log.Exists(ctx, saga.TopicRefundOrder)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("no refund record expected on the success path")
	}
}

func TestRedeliveryDoesNotDoubleDeduct(t *testing.T) {
	h, _, repo := newTestHandler(t)
	ctx := context.Background()

	p := model.Product{ID: "P1", Name: "widget", Price: 5, Quantity: 10}
	if err := repo.Create(ctx, &p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ev := eventlog.Event{
		Topic:  saga.TopicOrderCompleted,
		ID:     "1-0",
		Fields: saga.OrderCompletedFields("O1", "P1", 3, 5, 1, 6),
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	got, _ := repo.Get(ctx, "P1")
	if got.Quantity != 7 {
		t.Fatalf("expected quantity 7 after redelivery, got %d", got.Quantity)
	}
}

func TestMissingProductEmitsRefund(t *testing.T) {
	h, log, _ := newTestHandler(t)
	ctx := context.Background()

	ev := eventlog.Event{
		Topic:  saga.TopicOrderCompleted,
		ID:     "1-0",
		Fields: saga.OrderCompletedFields("O2", "P9", 1, 3, 0.6, 3.6),
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	events := claimAll(t, log, saga.TopicRefundOrder, "payment_group")
	if len(events) != 1 {
		t.Fatalf("expected 1 refund record, got %d", len(events))
	}
	refund := events[0]
	if refund.Fields[saga.FieldProductID] != "P9" {
		t.Fatalf("refund lost product_id: %+v", refund.Fields)
	}
	if refund.Fields[saga.FieldQuantity] != "1" {
		t.Fatalf("refund lost quantity: %+v", refund.Fields)
	}
	if refund.Fields[saga.FieldOrderID] != "O2" {
		t.Fatalf("refund lost order_id: %+v", refund.Fields)
	}
}

func TestRedeliveredCompensationAppendsOneRefund(t *testing.T) {
	h, log, _ := newTestHandler(t)
	ctx := context.Background()

	// The record is redelivered when the handler crashed between the refund
	// append and the ack; the compensation must not be appended again.
	ev := eventlog.Event{
		Topic:  saga.TopicOrderCompleted,
		ID:     "1-0",
		Fields: saga.OrderCompletedFields("O2", "P9", 1, 3, 0.6, 3.6),
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	events := claimAll(t, log, saga.TopicRefundOrder, "payment_group")
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 refund record, got %d", len(events))
	}
	if events[0].Fields[saga.FieldOrderID] != "O2" {
		t.Fatalf("refund lost order_id: %+v", events[0].Fields)
	}
}

func TestMalformedRecordIsDropped(t *testing.T) {
	h, log, _ := newTestHandler(t)
	ctx := context.Background()

	ev := eventlog.Event{
		Topic:  saga.TopicOrderCompleted,
		ID:     "1-0",
		Fields: map[string]string{"junk": "yes"},
	}
	if err := h.Handle(ctx, ev); err != nil {
		t.Fatalf("malformed record should be dropped, got %v", err)
	}

	ok, err := log.Exists(ctx, saga.TopicRefundOrder)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Fatal("malformed record must not trigger a refund")
	}
}
