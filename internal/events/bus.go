// Package events carries live-reload signals between the dealer server, its
// browser and terminal clients, and any peer servers sharing a bus.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"taskdealer/internal/config"
)

// ReloadMessage is the payload clients treat as "refresh now".
const ReloadMessage = "reload"

// DefaultSubject is the bus subject/channel used when none is configured.
const DefaultSubject = "taskdealer.events"

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

// Bus fans plain text messages out to every subscriber of one subject.
type Bus interface {
	Publish(ctx context.Context, msg string) error
	Subscribe(ctx context.Context) (<-chan string, func(), error)
	Close() error
}

// NewBus builds the bus named by cfg.Bus.
func NewBus(cfg config.EventsConfig) (Bus, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	switch strings.ToLower(cfg.Bus) {
	case "", "memory":
		return NewMemoryBus(), nil
	case "redis":
		return NewRedisBus(cfg.RedisURL, subject)
	case "nats":
		return NewNATSBus(cfg.NATSURL, subject)
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.Bus)
	}
}

// =============================================================================
// MEMORY BUS
// =============================================================================

// MemoryBus is an in-process Bus. Slow subscribers drop messages rather than
// block publishers.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan string]struct{}
	closed bool
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[chan string]struct{}{}}
}

func (b *MemoryBus) Publish(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan string, func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, nil, ErrBusClosed
	}
	ch := make(chan string, 32)
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			close(stop)
			b.remove(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()
	return ch, unsubscribe, nil
}

func (b *MemoryBus) remove(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

// Subscribers reports the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = map[chan string]struct{}{}
	return nil
}
