package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// historyMaxLen caps the per-channel history stream (XADD MAXLEN ~).
const historyMaxLen int64 = 1000

// SignalBus implements domain.SignalBus with Pub/Sub for live delivery.
// Every published payload is also appended to a capped stream so late
// subscribers can replay recent events.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

func historyKey(channel string) string { return keyPrefix + "history:" + channel }

// Publish sends payload on channel and records it in the channel history.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	pipe := sb.rdb.Pipeline()
	pipe.Publish(ctx, channel, payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: historyKey(channel),
		MaxLen: historyMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription. The returned channel closes when
// ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Recent returns up to n of the latest payloads published on channel,
// oldest first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, n int) ([][]byte, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, historyKey(channel), "+", "-", int64(n)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: history %s: %w", channel, err)
	}

	out := make([][]byte, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		switch v := msgs[i].Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
