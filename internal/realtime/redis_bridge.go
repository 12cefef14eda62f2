package realtime

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/model"
)

// RedisBridge fans changes out across server instances.  Publish sends to a
// Redis channel instead of the local hub; Run subscribes to that channel
// and dispatches every message to the local hub, so the originating
// instance delivers its own changes the same way as everyone else.
type RedisBridge struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewRedisBridge(rdb *redis.Client, channel string, hub *Hub, log *zap.SugaredLogger) *RedisBridge {
	return &RedisBridge{rdb: rdb, channel: channel, hub: hub, log: log}
}

// Publish implements Publisher.  If Redis rejects the message the change is
// still dispatched locally so this instance's clients are not starved.
func (b *RedisBridge) Publish(ctx context.Context, ch model.Change) error {
	payload, err := marshalChange(ch)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warnw("realtime: redis publish failed, dispatching locally", "err", err)
		b.hub.Dispatch(ch)
		return err
	}
	return nil
}

// Run relays the Redis channel into the hub until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-msgs:
			if !ok {
				return nil
			}
			var ch model.Change
			if err := json.Unmarshal([]byte(m.Payload), &ch); err != nil {
				b.log.Warnw("realtime: bad change on redis channel", "err", err)
				continue
			}
			b.hub.Dispatch(ch)
		}
	}
}
