package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Channel carries events between API instances.
const Channel = "stellarremit:events"

const publishTimeout = 2 * time.Second

type envelope struct {
	UserID  string          `json:"user_id"`
	Message json.RawMessage `json:"message"`
}

// Bridge publishes events to redis so every instance can relay them to its
// own sockets. Run must be started for local delivery.
type Bridge struct {
	rdb    *redis.Client
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(rdb *redis.Client, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{rdb: rdb, hub: hub, logger: logger}
}

// Dial connects to the redis server named by url.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Notify publishes the event. If redis is unreachable the event still
// reaches this instance's sockets.
func (b *Bridge) Notify(userID, event string, payload any) {
	msg, err := Encode(event, payload)
	if err != nil {
		b.logger.Error("failed to encode event", zap.String("event", event), zap.Error(err))
		return
	}
	data, err := json.Marshal(envelope{UserID: userID, Message: msg})
	if err != nil {
		b.logger.Error("failed to encode envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		b.logger.Warn("redis publish failed, delivering locally", zap.String("event", event), zap.Error(err))
		b.hub.Deliver(userID, msg)
	}
}

// Run relays published events to the local hub until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, Channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
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
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.logger.Warn("discarding malformed event", zap.Error(err))
				continue
			}
			b.hub.Deliver(env.UserID, env.Message)
		}
	}
}
