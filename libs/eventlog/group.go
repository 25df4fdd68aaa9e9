package eventlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingEvent is a redelivered record together with its delivery count, used
// by the stale-claim sweep to enforce the retry bound.
type PendingEvent struct {
	Event
	Deliveries int64
}

// Claim delivers up to count never-before-delivered records to the named
// consumer, atomically moving them into the group's pending set. It blocks
// cooperatively for at most block when no records are available, then returns
// an empty slice rather than an error.
func (l *Log) Claim(ctx context.Context, topic, group, consumer string, count int64, block time.Duration) ([]Event, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{topic, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s/%s: %w", topic, group, err)
	}

	var events []Event
	for _, stream := range res {
		for _, msg := range stream.Messages {
			events = append(events, eventFromMessage(stream.Stream, msg))
		}
	}
	return events, nil
}

// Ack removes records from the group's pending set, marking them durably
// processed. Acking an unknown or already-acked id is a no-op.
func (l *Log) Ack(ctx context.Context, topic, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, topic, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", topic, group, err)
	}
	return nil
}

// PendingCount reports how many delivered-but-unacknowledged records the
// group currently holds.
func (l *Log) PendingCount(ctx context.Context, topic, group string) (int64, error) {
	p, err := l.client.XPending(ctx, topic, group).Result()
	if err != nil {
		return 0, fmt.Errorf("pending %s/%s: %w", topic, group, err)
	}
	return p.Count, nil
}

// ReclaimStale transfers ownership of pending records idle for at least
// minIdle to the named consumer and returns them with their delivery counts.
// This is the recovery pass that makes crashed-and-unacknowledged records
// eventually redeliverable; without it the normal Claim path only ever sees
// new records.
func (l *Log) ReclaimStale(ctx context.Context, topic, group, consumer string, minIdle time.Duration, count int64) ([]PendingEvent, error) {
	entries, err := l.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: topic,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pending scan %s/%s: %w", topic, group, err)
	}

	deliveries := make(map[string]int64, len(entries))
	var stale []string
	for _, e := range entries {
		if e.Idle < minIdle {
			continue
		}
		stale = append(stale, e.ID)
		deliveries[e.ID] = e.RetryCount
	}
	if len(stale) == 0 {
		return nil, nil
	}

	msgs, err := l.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   topic,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: stale,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reclaim %s/%s: %w", topic, group, err)
	}

	reclaimed := make([]PendingEvent, 0, len(msgs))
	for _, msg := range msgs {
		reclaimed = append(reclaimed, PendingEvent{
			Event:      eventFromMessage(topic, msg),
			Deliveries: deliveries[msg.ID],
		})
	}
	return reclaimed, nil
}

func eventFromMessage(topic string, msg redis.XMessage) Event {
	fields := make(map[string]string, len(msg.Values))
	for k, v := range msg.Values {
		if s, ok := v.(string); ok {
			fields[k] = s
		} else {
			fields[k] = fmt.Sprint(v)
		}
	}
	return Event{Topic: topic, ID: msg.ID, Fields: fields}
}
