package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"taskdealer/internal/logging"
)

type natsSubscription interface {
	Unsubscribe() error
}

type natsConnection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler nats.MsgHandler) (natsSubscription, error)
	Close() error
}

// NATSBus relays messages over a NATS subject.
type NATSBus struct {
	conn    natsConnection
	subject string
}

// NewNATSBus dials the NATS server at url (nats.DefaultURL when empty).
func NewNATSBus(url, subject string) (*NATSBus, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url, nats.Name("taskdealer"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logging.Events("nats bus: %s subject=%s", conn.ConnectedUrl(), subject)
	return &NATSBus{conn: &natsAdapter{Conn: conn}, subject: subject}, nil
}

func (b *NATSBus) Publish(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(b.subject, []byte(msg)); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context) (<-chan string, func(), error) {
	if b == nil || b.conn == nil {
		return nil, nil, fmt.Errorf("nats bus is nil")
	}

	out := make(chan string, 32)
	stop := make(chan struct{})
	var stopped int32
	var mu sync.RWMutex
	var once sync.Once
	var sub natsSubscription

	unsubscribe := func() {
		once.Do(func() {
			atomic.StoreInt32(&stopped, 1)
			if sub != nil {
				_ = sub.Unsubscribe()
			}
			mu.Lock()
			close(out)
			mu.Unlock()
			close(stop)
		})
	}

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if atomic.LoadInt32(&stopped) == 1 {
			return
		}
		select {
		case out <- string(msg.Data):
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-stop:
		}
	}()
	return out, unsubscribe, nil
}

func (b *NATSBus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

type natsAdapter struct {
	*nats.Conn
}

func (a *natsAdapter) Subscribe(subject string, handler nats.MsgHandler) (natsSubscription, error) {
	sub, err := a.Conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *natsAdapter) Close() error {
	a.Conn.Close()
	return nil
}
