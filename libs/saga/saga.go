// Package saga holds the cross-service wire contract for the order
// choreography: topic names, consumer group names, and the field names carried
// on each record. These are shared constants because they are part of the wire
// contract, not an implementation detail of any one service.
package saga

import "strconv"

const (
	// TopicOrderCompleted carries one record per captured order.
	TopicOrderCompleted = "order_completed"
	// TopicRefundOrder carries the compensating intent when stock cannot be
	// deducted for a captured order.
	TopicRefundOrder = "refund_order"

	GroupInventory = "inventory_group"
	GroupPayment   = "payment_group"
	GroupAudit     = "audit_group"
)

const (
	FieldOrderID   = "order_id"
	FieldProductID = "product_id"
	FieldQuantity  = "quantity"
	FieldPrice     = "price"
	FieldFee       = "fee"
	FieldTotal     = "total"
	FieldStatus    = "status"

	FieldTraceparent = "traceparent"
	FieldTracestate  = "tracestate"
)

// Order statuses. pending -> completed -> refunded; refunded is terminal and
// completed is terminal on the success path.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
)

// OrderCompletedFields builds the record appended to order_completed when an
// order is captured. The refund topic carries the same field set, so keep the
// two in sync.
func OrderCompletedFields(orderID, productID string, quantity int, price, fee, total float64) map[string]string {
	return map[string]string{
		FieldOrderID:   orderID,
		FieldProductID: productID,
		FieldQuantity:  strconv.Itoa(quantity),
		FieldPrice:     strconv.FormatFloat(price, 'f', -1, 64),
		FieldFee:       strconv.FormatFloat(fee, 'f', -1, 64),
		FieldTotal:     strconv.FormatFloat(total, 'f', -1, 64),
		FieldStatus:    StatusCompleted,
	}
}

// RefundFields copies the triggering record's full field set so the refund
// consumer sees everything the inventory consumer saw, plus the order id.
func RefundFields(original map[string]string, orderID string) map[string]string {
	fields := make(map[string]string, len(original)+1)
	for k, v := range original {
		fields[k] = v
	}
	fields[FieldOrderID] = orderID
	return fields
}

// DedupToken is the idempotency key for a record's domain effect. Exactly one
// order_completed (and at most one refund_order) record is produced per order,
// so the order id dedups producer retries as well as redelivery; the
// log-assigned record id is the fallback for records that carry no order id.
func DedupToken(recordID string, fields map[string]string) string {
	if id := fields[FieldOrderID]; id != "" {
		return id
	}
	return recordID
}

// Quantity parses the quantity field. The zero value is returned for
// missing/garbage input; callers decide whether that is acceptable.
func Quantity(fields map[string]string) int {
	n, _ := strconv.Atoi(fields[FieldQuantity])
	return n
}
