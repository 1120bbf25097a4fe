package identity

import (
	"context"
	"encoding/json"
	"sync"

	"tenantcore/internal/logger"

	"github.com/redis/go-redis/v9"
)

// EventBus fans provider events out to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(handler func(Event)) (unsubscribe func())
}

// LocalBus delivers events synchronously to in-process subscribers.
type LocalBus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(Event)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Event))}
}

func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.dispatch(event)
	return nil
}

func (b *LocalBus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (b *LocalBus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// RedisBus relays events between processes over a redis pub/sub channel.
// Published events reach local subscribers once redis echoes them back.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	local   *LocalBus
	log     logger.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisBus(client redis.UniversalClient, channel string, log logger.Logger) *RedisBus {
	return &RedisBus{client: client, channel: channel, local: NewLocalBus(), log: log}
}

// Start subscribes to the channel and relays messages until ctx ends or
// Close is called.
func (b *RedisBus) Start(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn("dropping malformed identity event", logger.String("channel", msg.Channel), logger.Error(err))
					continue
				}
				b.local.dispatch(event)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBus) Subscribe(handler func(Event)) func() {
	return b.local.Subscribe(handler)
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub = nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
