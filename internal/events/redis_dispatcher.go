package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisDispatcher fans events out through a Redis channel so every instance
// sees every committed change. Handlers registered locally run when the
// message comes back from Redis, including on the publishing instance.
type RedisDispatcher struct {
	client    *redis.Client
	channel   string
	local     *inMemoryDispatcher
	logger    *zap.Logger
	ready      chan struct{}
	readyOnce  sync.Once
	subscribed atomic.Bool

	mu           sync.Mutex
	onSubscribed []func()
}

// NewRedisDispatcher builds a dispatcher bound to channel.
func NewRedisDispatcher(client *redis.Client, channel string, logger *zap.Logger) *RedisDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisDispatcher{
		client:  client,
		channel: channel,
		local:   newInMemoryDispatcher(),
		logger:  logger,
		ready:   make(chan struct{}),
	}
}

// Publish serializes event onto the channel.
func (d *RedisDispatcher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := d.client.Publish(ctx, d.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe registers a local handler.
func (d *RedisDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.local.Subscribe(eventType, handler)
}

// OnSubscribed registers fn to run every time the channel subscription is
// (re)established. Events published while disconnected are lost, so
// dependents use this to resync.
func (d *RedisDispatcher) OnSubscribed(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onSubscribed = append(d.onSubscribed, fn)
}

// Ready is closed once the channel subscription is confirmed by Redis.
func (d *RedisDispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Ping reports whether the change channel subscription is currently live.
func (d *RedisDispatcher) Ping(ctx context.Context) error {
	if !d.subscribed.Load() {
		return errors.New("change relay not subscribed")
	}
	return d.client.Ping(ctx).Err()
}

// Run relays channel messages to local handlers until ctx ends or the
// subscription breaks. The caller decides whether to restart it.
func (d *RedisDispatcher) Run(ctx context.Context) error {
	pubsub := d.client.Subscribe(ctx, d.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", d.channel, err)
	}
	d.subscribed.Store(true)
	defer d.subscribed.Store(false)
	d.readyOnce.Do(func() { close(d.ready) })
	d.mu.Lock()
	hooks := append([]func(){}, d.onSubscribed...)
	d.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("change channel closed")
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				d.logger.Error("discarding malformed change event", zap.Error(err))
				continue
			}
			if err := d.local.Publish(ctx, event); err != nil {
				d.logger.Error("change handler failed",
					zap.String("event_type", string(event.Type)),
					zap.String("ticket_id", event.TicketID),
					zap.Error(err))
			}
		}
	}
}
