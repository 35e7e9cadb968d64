package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "activity:"
	publishTimeout = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
// Origin carries the publishing hub's instance id so instances skip their own
// messages instead of double-delivering to local clients.
type redisPayload struct {
	Event  string          `json:"event"`
	Scope  string          `json:"scope"`
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub implements Publisher and Subscriber over Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for activity events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// PublishActivityEvent publishes an event to the activity's Redis channel.
func (r *RedisPubSub) PublishActivityEvent(activityID, event, scope, origin string, payload []byte) error {
	channel := channelPrefix + activityID
	body, err := json.Marshal(redisPayload{Event: event, Scope: scope, Origin: origin, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channel, body).Err()
}

// SubscribeActivity subscribes to an activity's Redis channel and calls
// handler for each message. Returns a cancel function to stop the
// subscription.
func (r *RedisPubSub) SubscribeActivity(activityID string, handler func(event, scope, origin string, payload []byte)) (cancel func(), err error) {
	channel := channelPrefix + activityID
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("bad bridge payload", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(p.Event, p.Scope, p.Origin, p.Data)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}
