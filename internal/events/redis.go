package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/coyapp/coy-server/internal/logging"
)

// RedisBridge relays events between a Redis pub/sub channel and the local
// bus, so social-graph mutations made by another process still invalidate
// this process's feed caches.
type RedisBridge struct {
	client  *redis.Client
	channel string
	bus     *Bus
	logger  *logging.Logger
}

// NewRedisBridge creates a bridge on the given pub/sub channel
func NewRedisBridge(client *redis.Client, channel string, bus *Bus, logger *logging.Logger) *RedisBridge {
	return &RedisBridge{
		client:  client,
		channel: channel,
		bus:     bus,
		logger:  logger,
	}
}

// Publish sends evt to the Redis channel for other processes
func (br *RedisBridge) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := br.client.Publish(ctx, br.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to the Redis channel and republishes received events on the
// local bus until ctx is cancelled.
func (br *RedisBridge) Run(ctx context.Context) error {
	sub := br.client.Subscribe(ctx, br.channel)
	defer sub.Close()

	br.logger.Info("Event bridge subscribed", logging.WithField("channel", br.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				br.logger.Warn("Dropping malformed event", logging.WithFields(map[string]interface{}{
					"channel": br.channel,
					"error":   err.Error(),
				}))
				continue
			}

			br.bus.Publish(evt)
		}
	}
}
