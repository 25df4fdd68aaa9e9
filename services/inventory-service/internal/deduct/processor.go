// Package deduct holds the inventory side of the order saga: consume
// order_completed records, deduct stock, and emit the compensating
// refund_order record when the product cannot be resolved.
package deduct

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"github.com/mahmud-sazid/orderflow/libs/saga"
	"github.com/mahmud-sazid/orderflow/services/inventory-service/internal/storage"
)

type Handler struct {
	products storage.ProductStore
	inbox    *eventlog.Inbox
	logger   *slog.Logger
}

func NewHandler(products storage.ProductStore, inbox *eventlog.Inbox, logger *slog.Logger) *Handler {
	return &Handler{products: products, inbox: inbox, logger: logger}
}

// Handle processes one order_completed record. Returning nil acknowledges it;
// only transient infrastructure errors are returned so that the record is
// retried.
func (h *Handler) Handle(ctx context.Context, ev eventlog.Event) error {
	productID := ev.Fields[saga.FieldProductID]
	orderID := ev.Fields[saga.FieldOrderID]
	if productID == "" {
		// Malformed records would fail on every redelivery; acknowledge and
		// move on rather than poisoning the group.
		h.logger.Warn("record missing product_id, dropping", "topic", ev.Topic, "id", ev.ID)
		return nil
	}

	qty := saga.Quantity(ev.Fields)
	token := saga.DedupToken(ev.ID, ev.Fields)

	applied, err := h.products.DeductStock(ctx, productID, qty, token)
	if storage.IsNotFound(err) {
		// The designed compensation trigger, not a fault: the product is gone,
		// so durably record the refund intent before the original record is
		// acknowledged.
		return h.compensate(ctx, ev, orderID, token)
	}
	if err != nil {
		return err
	}

	if !applied {
		h.logger.Info("duplicate delivery ignored", "order_id", orderID, "record_id", ev.ID)
		return nil
	}
	h.logger.Info("stock deducted", "product_id", productID, "quantity", qty, "order_id", orderID)
	return nil
}

func (h *Handler) compensate(ctx context.Context, ev eventlog.Event, orderID, token string) error {
	fields := saga.RefundFields(ev.Fields, orderID)
	fields[saga.FieldTraceparent], fields[saga.FieldTracestate] = otelx.TraceContextStrings(ctx)

	// The append is bundled with an inbox mark so a redelivered record (crash
	// between append and ack) never produces a second refund.
	id, err := h.inbox.AppendOnce(ctx, saga.TopicRefundOrder, saga.GroupInventory, "refund:"+token, fields)
	if err != nil {
		// Compensation is not durable yet, so the original record must stay
		// unacknowledged and be retried.
		return fmt.Errorf("append refund for order %s: %w", orderID, err)
	}
	if id == "" {
		h.logger.Info("refund already requested", "order_id", orderID, "record_id", ev.ID)
		return nil
	}
	h.logger.Info("product missing, refund requested",
		"product_id", ev.Fields[saga.FieldProductID], "order_id", orderID, "refund_record_id", id)
	return nil
}
