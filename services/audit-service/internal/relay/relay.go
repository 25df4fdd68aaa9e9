// Package relay republishes saga records to Kafka for downstream analytics.
// The event log stays the source of truth; the relay is a read-side tap.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/mahmud-sazid/orderflow/libs/eventlog"
	"github.com/mahmud-sazid/orderflow/libs/kafkax"
	otelx "github.com/mahmud-sazid/orderflow/libs/otel"
	"github.com/mahmud-sazid/orderflow/libs/saga"
)

type Relay struct {
	writer *kafka.Writer
	inbox  *eventlog.Inbox
	logger *slog.Logger
}

// New builds a relay over the given brokers. With no brokers configured the
// relay still consumes and acknowledges records, it just logs them, so the
// audit group never accumulates an unbounded backlog in dev setups.
func New(brokers []string, inbox *eventlog.Inbox, logger *slog.Logger) *Relay {
	if len(brokers) == 0 {
		logger.Warn("audit relay running without kafka (no brokers configured)")
		return &Relay{inbox: inbox, logger: logger}
	}
	return &Relay{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
		inbox:  inbox,
		logger: logger,
	}
}

func (r *Relay) Close() error {
	if r.writer == nil {
		return nil
	}
	return r.writer.Close()
}

// Handle forwards one saga record to Kafka. The Kafka topic mirrors the
// stream topic, and the key is the order id so records for one order land in
// one partition. The inbox suppresses duplicate forwards from redeliveries;
// the token is checked before the write and recorded after it, so a crash in
// between replays the forward rather than dropping it.
func (r *Relay) Handle(ctx context.Context, ev eventlog.Event) error {
	token := ev.Topic + ":" + ev.ID
	seen, err := r.inbox.Seen(ctx, saga.GroupAudit, token)
	if err != nil {
		return err
	}
	if seen {
		r.logger.Info("record already relayed", "topic", ev.Topic, "record_id", ev.ID)
		return nil
	}

	msgCtx := otelx.ContextWithTraceContext(ctx,
		ev.Fields[saga.FieldTraceparent], ev.Fields[saga.FieldTracestate])

	if r.writer == nil {
		r.logger.Info("audit record", "topic", ev.Topic, "record_id", ev.ID,
			"order_id", ev.Fields[saga.FieldOrderID])
	} else {
		msg, err := buildMessage(msgCtx, ev)
		if err != nil {
			return err
		}
		if err := r.writer.WriteMessages(ctx, msg); err != nil {
			return fmt.Errorf("relay record %s to kafka: %w", ev.ID, err)
		}
	}

	if _, err := r.inbox.Record(ctx, saga.GroupAudit, token); err != nil {
		return err
	}
	return nil
}

func buildMessage(ctx context.Context, ev eventlog.Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev.Fields)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode audit record %s: %w", ev.ID, err)
	}

	key := ev.Fields[saga.FieldOrderID]
	if key == "" {
		key = ev.ID
	}
	msg := kafka.Message{
		Topic: ev.Topic,
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "event_type", Value: []byte(ev.Topic)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return msg, nil
}
