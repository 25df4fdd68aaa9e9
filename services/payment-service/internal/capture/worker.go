// Package capture settles pending orders after a grace delay and publishes
// the order_completed record that drives the rest of the fulfilment flow.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/model"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
)

const dueSetKey = "orders:capture_due"

type Worker struct {
	client    *redis.Client
	orders    storage.OrderStore
	log       *eventlog.Log
	charger   Charger
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	delay     time.Duration
}

type Config struct {
	Interval     time.Duration
	BatchSize    int
	CaptureDelay time.Duration
}

func NewWorker(client *redis.Client, orders storage.OrderStore, log *eventlog.Log, charger Charger, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.CaptureDelay < 0 {
		cfg.CaptureDelay = 0
	}
	return &Worker{
		client:    client,
		orders:    orders,
		log:       log,
		charger:   charger,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		delay:     cfg.CaptureDelay,
	}
}

// Schedule queues an order for capture once its grace delay elapses. During
// the delay the order stays pending and can still move straight to refunded.
func (w *Worker) Schedule(ctx context.Context, orderID string) error {
	dueAt := time.Now().Add(w.delay)
	err := w.client.ZAdd(ctx, dueSetKey, redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: orderID,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule capture for order %s: %w", orderID, err)
	}
	return nil
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processDue(ctx); err != nil {
				w.logger.Error("capture batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := w.client.ZRangeByScore(ctx, dueSetKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: int64(w.batchSize),
	}).Result()
	if err != nil {
		return fmt.Errorf("fetch due captures: %w", err)
	}

	for _, orderID := range ids {
		if err := w.capture(ctx, orderID); err != nil {
			// The order stays in the due set and is retried next tick.
			w.logger.Error("capture failed", "order_id", orderID, "err", err)
		}
	}
	return nil
}

// capture settles a single order. The due-set entry is removed last so a
// crash mid-capture replays the order on the next tick; downstream consumers
// deduplicate by order id, and the status transition guards the charge.
func (w *Worker) capture(ctx context.Context, orderID string) error {
	order, err := w.orders.Get(ctx, orderID)
	if storage.IsNotFound(err) {
		w.logger.Warn("due order no longer exists", "order_id", orderID)
		return w.dequeue(ctx, orderID)
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case saga.StatusPending:
		if err := w.charger.Charge(ctx, order); err != nil {
			return err
		}
		changed, err := w.orders.UpdateStatus(ctx, orderID, saga.StatusPending, saga.StatusCompleted)
		if err != nil {
			return err
		}
		if !changed {
			// Another instance completed the order while the charge was in
			// flight. Its publish is not guaranteed to have happened (it may
			// have crashed between the status write and the append), so
			// publish here too; consumers dedup by order id.
			if err := w.publishCompleted(ctx, order); err != nil {
				return err
			}
			return w.dequeue(ctx, orderID)
		}
		if err := w.publishCompleted(ctx, order); err != nil {
			return err
		}
		w.logger.Info("order captured",
			"order_id", orderID,
			"provider", w.charger.ProviderID(),
			"total", order.Total)
		return w.dequeue(ctx, orderID)

	case saga.StatusCompleted:
		// A previous run crashed after the transition but before the
		// publish or the dequeue. Re-publish to be safe.
		if err := w.publishCompleted(ctx, order); err != nil {
			return err
		}
		return w.dequeue(ctx, orderID)

	default:
		return w.dequeue(ctx, orderID)
	}
}

func (w *Worker) publishCompleted(ctx context.Context, order model.Order) error {
	fields := saga.OrderCompletedFields(order.ID, order.ProductID, order.Quantity, order.Price, order.Fee, order.Total)
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	if traceparent != "" {
		fields[saga.FieldTraceparent] = traceparent
	}
	if tracestate != "" {
		fields[saga.FieldTracestate] = tracestate
	}
	if _, err := w.log.Append(ctx, saga.TopicOrderCompleted, fields); err != nil {
		return fmt.Errorf("publish completion for order %s: %w", order.ID, err)
	}
	return nil
}

func (w *Worker) dequeue(ctx context.Context, orderID string) error {
	if err := w.client.ZRem(ctx, dueSetKey, orderID).Err(); err != nil {
		return fmt.Errorf("dequeue order %s: %w", orderID, err)
	}
	return nil
}
