package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Inbox is the replay guard for at-least-once delivery. Handlers whose domain
// effect is not naturally idempotent record a dedup token before applying it;
// Record returns false when the token was already seen, meaning the effect was
// applied by an earlier delivery.
type Inbox struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewInbox(client *redis.Client, prefix string, ttl time.Duration) *Inbox {
	if prefix == "" {
		prefix = "inbox"
	}
	return &Inbox{client: client, prefix: prefix, ttl: ttl}
}

// Record marks the token as seen for the group. The first call returns true;
// replays return false.
func (i *Inbox) Record(ctx context.Context, group, token string) (bool, error) {
	return i.client.SetNX(ctx, i.Key(group, token), "1", i.ttl).Result()
}

// Seen reports whether the token was already recorded, without marking it.
// Handlers with a non-atomic side effect check first, apply the effect, then
// Record, so a crash in between replays the effect instead of dropping it.
func (i *Inbox) Seen(ctx context.Context, group, token string) (bool, error) {
	n, err := i.client.Exists(ctx, i.Key(group, token)).Result()
	return n > 0, err
}

// appendOnceScript marks the dedup key and appends the record in one atomic
// step, so a crash between "append" and "remember" cannot cause a redelivered
// record to append twice.
//
// KEYS[1] topic, KEYS[2] dedup key; ARGV[1] ttl in millis (0 = none),
// ARGV[2..] flattened field/value pairs. Returns the record id, or the empty
// string on replay.
var appendOnceScript = redis.NewScript(`
if redis.call("SETNX", KEYS[2], "1") == 0 then
  return ""
end
if tonumber(ARGV[1]) > 0 then
  redis.call("PEXPIRE", KEYS[2], ARGV[1])
end
local args = {}
for i = 2, #ARGV do
  args[#args + 1] = ARGV[i]
end
return redis.call("XADD", KEYS[1], "*", unpack(args))
`)

// AppendOnce appends one record to a topic at most once per (group, token).
// The returned id is empty when the token was already recorded, meaning an
// earlier delivery appended the record.
func (i *Inbox) AppendOnce(ctx context.Context, topic, group, token string, fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "", fmt.Errorf("append to %s: empty field set", topic)
	}
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, i.ttl.Milliseconds())
	for k, v := range fields {
		args = append(args, k, v)
	}
	id, err := appendOnceScript.Run(ctx, i.client,
		[]string{topic, i.Key(group, token)}, args...).Text()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", topic, err)
	}
	return id, nil
}

// Key exposes the storage key for a token so callers can bundle the dedup
// mark into an atomic script together with the domain effect itself.
func (i *Inbox) Key(group, token string) string {
	return i.prefix + ":" + group + ":" + token
}
