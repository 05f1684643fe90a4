package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"taskdealer/internal/logging"
)

type redisPubSub interface {
	Channel(...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

type redisBusClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) redisPubSub
	Close() error
}

// RedisBus relays messages over a redis pub/sub channel.
type RedisBus struct {
	client  redisBusClient
	channel string
}

// NewRedisBus connects lazily to the redis server at url.
func NewRedisBus(url, channel string) (*RedisBus, error) {
	if url == "" {
		url = "redis://127.0.0.1:6379"
	}
	if channel == "" {
		channel = DefaultSubject
	}
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	logging.Events("redis bus: %s channel=%s", options.Addr, channel)
	return &RedisBus{
		client:  &redisBusAdapter{Client: redis.NewClient(options)},
		channel: channel,
	}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg string) error {
	if err := b.client.Publish(ctx, b.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan string, func(), error) {
	if b == nil || b.client == nil {
		return nil, nil, fmt.Errorf("redis bus is nil")
	}
	pubSub := b.client.Subscribe(ctx, b.channel)
	if pubSub == nil {
		return nil, nil, fmt.Errorf("redis subscribe failed")
	}
	raw := pubSub.Channel()
	out := make(chan string, 32)
	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = pubSub.Close()
			close(stop)
		})
	}
	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					logging.EventsDebug("redis bus: subscriber full, dropped %q", msg.Payload)
				}
			}
		}
	}()
	return out, unsubscribe, nil
}

func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

type redisBusAdapter struct {
	*redis.Client
}

func (r *redisBusAdapter) Subscribe(ctx context.Context, channels ...string) redisPubSub {
	return r.Client.Subscribe(ctx, channels...)
}
