package events

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"taskdealer/internal/logging"
)

// ErrHubClosed is returned by Connect after Shutdown.
var ErrHubClosed = errors.New("event hub closed")

// Client is one connected browser or terminal listener.
type Client struct {
	ID string
	C  <-chan string

	ch chan string
}

// HubOptions tune a Hub.
type HubOptions struct {
	// ReloadOnConnect sends ReloadMessage to existing clients whenever a new
	// one connects.
	ReloadOnConnect bool
}

// Hub delivers bus messages to locally connected clients.
type Hub struct {
	bus  Bus
	opts HubOptions

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

// NewHub wraps bus. A nil bus gets a private MemoryBus.
func NewHub(bus Bus, opts HubOptions) *Hub {
	if bus == nil {
		bus = NewMemoryBus()
	}
	return &Hub{
		bus:     bus,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Connect registers a new client. Existing clients are told to reload first
// when ReloadOnConnect is set; the new client never sees that message.
func (h *Hub) Connect() (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if h.opts.ReloadOnConnect && len(h.clients) > 0 {
		h.deliverLocked(ReloadMessage)
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditReloadBroadcast,
			Success:   true,
			Fields:    map[string]interface{}{"reason": "connect", "clients": len(h.clients)},
		})
	}
	ch := make(chan string, 16)
	c := &Client{ID: uuid.NewString(), C: ch, ch: ch}
	h.clients[c.ID] = c
	logging.EventsDebug("client %s connected (%d total)", c.ID, len(h.clients))
	return c, nil
}

// Disconnect removes c and closes its channel. Safe to call twice.
func (h *Hub) Disconnect(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	close(c.ch)
	logging.EventsDebug("client %s disconnected (%d left)", c.ID, len(h.clients))
}

// Clients reports how many clients are connected.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast publishes msg on the bus; Run delivers it to local clients.
func (h *Hub) Broadcast(ctx context.Context, msg string) error {
	if msg == "" {
		msg = ReloadMessage
	}
	if err := h.bus.Publish(ctx, msg); err != nil {
		logging.EventsWarn("broadcast %q failed: %v", msg, err)
		return err
	}
	logging.Events("broadcast %q", msg)
	return nil
}

// Run relays bus messages to local clients until ctx is done or the bus
// subscription ends.
func (h *Hub) Run(ctx context.Context) error {
	msgs, unsubscribe, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.mu.Lock()
			h.deliverLocked(msg)
			h.mu.Unlock()
		}
	}
}

// Shutdown disconnects every client and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		close(c.ch)
		delete(h.clients, id)
	}
}

func (h *Hub) deliverLocked(msg string) {
	for _, c := range h.clients {
		select {
		case c.ch <- msg:
		default:
			logging.EventsDebug("client %s lagging, dropped %q", c.ID, msg)
		}
	}
}
