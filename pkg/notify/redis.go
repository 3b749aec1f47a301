package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"threatmesh/pkg/circuitbreaker"
	"threatmesh/pkg/structlog"
)

// RedisDispatcher publishes events to a Redis channel. Delivery is
// best-effort: failures are logged, counted by the breaker, and never
// surfaced to callers.
type RedisDispatcher struct {
	client  *redis.Client
	channel string
	breaker *circuitbreaker.CircuitBreaker
	log     *structlog.Logger
}

// NewRedisDispatcher connects a dispatcher to a channel.
func NewRedisDispatcher(addr, channel string, log *structlog.Logger) *RedisDispatcher {
	if log == nil {
		log = structlog.NewLogger("notify", structlog.LevelInfo, nil)
	}
	return &RedisDispatcher{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		breaker: circuitbreaker.New("notify-redis", circuitbreaker.DefaultSettings()),
		log:     log,
	}
}

type eventEnvelope struct {
	Event     string                 `json:"event"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Notify implements Dispatcher.
func (d *RedisDispatcher) Notify(ctx context.Context, event string, payload map[string]interface{}) {
	body, err := json.Marshal(eventEnvelope{Event: event, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		d.log.Error("notification encode failed", structlog.Fields{"event": event, "error": err.Error()})
		return
	}
	err = d.breaker.Execute(func() error {
		return d.client.Publish(ctx, d.channel, body).Err()
	})
	if err != nil {
		d.log.Warn("notification dropped", structlog.Fields{
			"event":   event,
			"breaker": d.breaker.State().String(),
			"error":   err.Error(),
		})
	}
}

// Close releases the underlying client.
func (d *RedisDispatcher) Close() error {
	return d.client.Close()
}
