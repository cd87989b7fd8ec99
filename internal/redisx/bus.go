package redisx

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/realtime"
)

// Bus fans chat envelopes out to every API instance over Redis pub/sub.
type Bus struct {
	rdb     redis.UniversalClient
	channel string
	log     *slog.Logger
}

func NewBus(rdb redis.UniversalClient) *Bus {
	return &Bus{rdb: rdb, channel: ChannelChatEvents, log: logx.New("chat-bus")}
}

var _ realtime.Bus = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, e realtime.Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Subscribe blocks until ctx is done. Malformed payloads are logged and skipped.
func (b *Bus) Subscribe(ctx context.Context, fn func(realtime.Envelope)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var e realtime.Envelope
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				b.log.Warn("drop malformed chat envelope", "error", err.Error())
				continue
			}
			fn(e)
		}
	}
}
