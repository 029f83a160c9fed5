package realtime

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"corkboard-api/domain"
)

// Broadcaster publishes accepted board events. With a redis client attached,
// events travel through a pub/sub channel so every API instance (including
// the publishing one) fans them out to its local sessions; without redis it
// degrades to direct local fan-out, which tests and single-instance
// deployments use.
type Broadcaster struct {
	hub     *Hub
	redis   *redis.Client
	channel string
	logger  *log.Logger
}

// NewBroadcaster wires a hub to an optional redis relay channel.
func NewBroadcaster(hub *Hub, client *redis.Client, channel string, logger *log.Logger) *Broadcaster {
	if channel == "" {
		channel = "corkboard:events"
	}
	return &Broadcaster{hub: hub, redis: client, channel: channel, logger: logger}
}

// Publish emits one event to the board's broadcast group. Emission is
// fire-and-forget: failures are logged, never surfaced to the operation that
// triggered them.
func (b *Broadcaster) Publish(ctx context.Context, ev domain.Event, origin string) {
	data, err := domain.EncodeEvent(ev, origin)
	if err != nil {
		b.logger.WithError(err).Error("encode event")
		return
	}
	if b.redis == nil {
		b.hub.Broadcast(ev.BoardID(), data, origin)
		return
	}
	if err := b.redis.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.WithError(err).Error("publish event")
		// Local sessions still get the event even when the relay is down.
		b.hub.Broadcast(ev.BoardID(), data, origin)
	}
}

// Run subscribes to the relay channel and feeds received events into the
// local hub. It reconnects with a short backoff until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	if b.redis == nil {
		return
	}
	for {
		sub := b.redis.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				data := []byte(msg.Payload)
				ev, origin, err := domain.DecodeEvent(data)
				if err != nil {
					b.logger.WithError(err).Error("unable to parse relayed event")
					continue
				}
				b.hub.Broadcast(ev.BoardID(), data, origin)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
