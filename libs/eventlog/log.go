// Package eventlog is the durability primitive for the order saga: an
// append-only, topic-partitioned record log with competing-consumer groups,
// backed by Redis Streams. Records are immutable and totally ordered by their
// log-assigned id within one topic. Delivery to a group is at-least-once: a
// claimed record stays in the group's pending set until it is acknowledged,
// and is redelivered if its consumer dies first.
package eventlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// InitField marks the sentinel record appended to bring a topic into
// existence. A stream with zero records does not exist as a key, and group
// creation against an absent key fails, so every topic is seeded with one
// sentinel before any group is registered. Consumers skip it.
const (
	InitField   = "message"
	InitMessage = "stream initialized"
)

// Event is one immutable record read from a topic.
type Event struct {
	Topic  string
	ID     string
	Fields map[string]string
}

// IsInit reports whether the event is a topic-bootstrap sentinel.
func (e Event) IsInit() bool {
	return e.Fields[InitField] == InitMessage
}

// Log is a handle on the event log. It wraps an explicit client connection;
// components receive it at construction.
type Log struct {
	client *redis.Client
}

func New(client *redis.Client) *Log {
	return &Log{client: client}
}

// Append writes one record to a topic and returns the log-assigned id.
// The record is durable when Append returns.
func (l *Log) Append(ctx context.Context, topic string, fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("append to %s: empty field set", topic)
	}
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", topic, err)
	}
	return id, nil
}

// Exists reports whether the topic has ever held a record.
func (l *Log) Exists(ctx context.Context, topic string) (bool, error) {
	n, err := l.client.Exists(ctx, topic).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", topic, err)
	}
	return n > 0, nil
}

// EnsureTopic deterministically brings a topic into existence by appending a
// sentinel record if the topic has none. Required before CreateGroup.
func (l *Log) EnsureTopic(ctx context.Context, topic string) error {
	ok, err := l.Exists(ctx, topic)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = l.Append(ctx, topic, map[string]string{InitField: InitMessage})
	return err
}

// CreateGroup registers a consumer group cursor on a topic starting at
// startID ("0" to read from the beginning). Creating a group that already
// exists is a no-op, not an error.
func (l *Log) CreateGroup(ctx context.Context, topic, group, startID string) error {
	if startID == "" {
		startID = "0"
	}
	err := l.client.XGroupCreate(ctx, topic, group, startID).Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create group %s on %s: %w", group, topic, err)
	}
	return nil
}
