// Package refund holds the compensation side of the order saga: consume
// refund_order records and move the affected order to its terminal state.
package refund

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/payment-service/internal/storage"
)

type Handler struct {
	orders storage.OrderStore
	logger *slog.Logger
}

func NewHandler(orders storage.OrderStore, logger *slog.Logger) *Handler {
	return &Handler{orders: orders, logger: logger}
}

// Handle processes one refund_order record. The refund applies only to a
// completed order; orders still pending are retried until the capture worker
// has persisted the transition, and unknown orders are retried until the
// delivery bound dead-letters them.
func (h *Handler) Handle(ctx context.Context, ev eventlog.Event) error {
	orderID := ev.Fields[saga.FieldOrderID]
	if orderID == "" {
		h.logger.Warn("record missing order_id, dropping", "topic", ev.Topic, "id", ev.ID)
		return nil
	}

	order, err := h.orders.Get(ctx, orderID)
	if storage.IsNotFound(err) {
		return fmt.Errorf("refund requested for unknown order %s", orderID)
	}
	if err != nil {
		return err
	}

	switch order.Status {
	case saga.StatusRefunded:
		h.logger.Info("order already refunded", "order_id", orderID, "record_id", ev.ID)
		return nil
	case saga.StatusPending:
		// The completion record can outrun the status write when the capture
		// worker crashed mid-flight. Leave the record pending and retry.
		return fmt.Errorf("order %s not yet captured", orderID)
	}

	changed, err := h.orders.UpdateStatus(ctx, orderID, saga.StatusCompleted, saga.StatusRefunded)
	if err != nil {
		return fmt.Errorf("refund order %s: %w", orderID, err)
	}
	if !changed {
		h.logger.Info("duplicate refund ignored", "order_id", orderID, "record_id", ev.ID)
		return nil
	}
	h.logger.Info("order refunded", "order_id", orderID, "total", order.Total)
	return nil
}
