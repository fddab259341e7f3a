package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kiwari-pos/kds/internal/kitchen"
	"go.uber.org/zap"
)

// SnapshotFunc returns the orders currently on the board. A newly connected
// display receives it before any broadcast.
type SnapshotFunc func(ctx context.Context) ([]kitchen.OrderGroup, error)

// Hub maintains the set of connected displays and broadcasts board events to them.
// Displays apply events as upserts keyed by order ID, so an event that is
// already reflected in a snapshot they hold is harmless.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	// Outbound board events
	broadcast chan kitchen.Event

	// Signalled when an event was dropped; every display gets a fresh snapshot
	resync chan struct{}

	snapshot SnapshotFunc
	logger   *zap.Logger

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(snapshot SnapshotFunc, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan kitchen.Event, 256),
		resync:     make(chan struct{}, 1),
		snapshot:   snapshot,
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.attach(ctx, client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, exists := h.clients[client]; exists {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("display disconnected", zap.String("client_id", client.id.String()))

		case event := <-h.broadcast:
			// Marshal event to JSON once
			message, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshal board event", zap.Error(err))
				continue
			}
			h.deliver(message)

		case <-h.resync:
			message, err := h.snapshotMessage(ctx)
			if err != nil {
				h.logger.Error("resync snapshot", zap.Error(err))
				continue
			}
			if message != nil {
				h.logger.Info("resyncing displays after dropped events")
				h.deliver(message)
			}
		}
	}
}

// attach queues the board snapshot for client and then adds it to the
// broadcast set. Both happen on the hub goroutine, so every event the board
// emits after the snapshot is taken reaches the client after the snapshot.
func (h *Hub) attach(ctx context.Context, client *Client) {
	message, err := h.snapshotMessage(ctx)
	if err != nil {
		h.logger.Error("websocket snapshot", zap.String("client_id", client.id.String()), zap.Error(err))
		close(client.send)
		return
	}
	if message != nil {
		client.send <- message
	}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Info("display connected", zap.String("client_id", client.id.String()))
}

func (h *Hub) deliver(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			// Client's send buffer is full, close and unregister
			close(client.send)
			delete(h.clients, client)
			h.logger.Warn("dropping slow display", zap.String("client_id", client.id.String()))
		}
	}
}

// Notify queues a board event for every connected display. It never blocks:
// when the queue is full the event is dropped and a fresh snapshot is sent
// to every display once the hub catches up.
func (h *Hub) Notify(ctx context.Context, event kitchen.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast queue full, dropping event",
			zap.String("type", string(event.Type)),
			zap.Int64("order_id", event.OrderID),
		)
		select {
		case h.resync <- struct{}{}:
		default:
		}
	}
}

// Clients returns the number of connected displays.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
