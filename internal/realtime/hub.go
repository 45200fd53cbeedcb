// Package realtime pushes capture status and lifecycle events to websocket subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capturekit/server/internal/status"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventStatus carries a CombinedStatus snapshot.
	EventStatus = "status"
)

// EventPublisher publishes to Redis for cross-instance broadcast.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event string, payload []byte) error
}

// EventSubscriber delivers events published by any instance.
type EventSubscriber interface {
	SubscribeEvents(handler func(event string, payload []byte)) (cancel func(), err error)
}

// Snapshotter produces the combined status pushed to subscribers.
type Snapshotter interface {
	Snapshot(ctx context.Context) status.CombinedStatus
}

// Hub maintains the set of status subscribers and broadcasts messages to them.
// With Redis configured, lifecycle events go through pub/sub so every instance relays them once.
type Hub struct {
	clients  map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    EventPublisher
	redisSub EventSubscriber
	status   Snapshotter
	interval time.Duration
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, snap Snapshotter, interval time.Duration, redisPub EventPublisher, redisSub EventSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Hub{
		clients:  make(map[string]*Client),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
		status:   snap,
		interval: interval,
	}
}

// SetSnapshotter sets the status source. Call it before Run.
func (h *Hub) SetSnapshotter(s Snapshotter) { h.status = s }

// Run relays Redis events and pushes a status snapshot every interval until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.redisSub != nil {
		cancel, err := h.redisSub.SubscribeEvents(func(event string, payload []byte) {
			h.Broadcast(event, json.RawMessage(payload))
		})
		if err != nil {
			return err
		}
		defer cancel()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			if h.Count() == 0 || h.status == nil {
				continue
			}
			h.Broadcast(EventStatus, h.status.Snapshot(ctx))
		}
	}
}

// Publish sends a lifecycle event to every subscriber of every instance. It implements
// the engine's event publisher.
func (h *Hub) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if h.redis != nil {
		return h.redis.PublishEvent(ctx, event, data)
	}
	h.Broadcast(event, json.RawMessage(data))
	return nil
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("status subscriber joined", zap.String("client_id", c.ID))
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Debug("status subscriber left", zap.String("client_id", c.ID))
}

// Broadcast sends a message to all local clients. Slow clients miss messages.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, ok := encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// SendSnapshot sends the current status to one client.
func (h *Hub) SendSnapshot(ctx context.Context, c *Client) {
	if h.status == nil {
		return
	}
	msg, ok := encode(EventStatus, h.status.Snapshot(ctx))
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, live := h.clients[c.ID]; !live {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

func encode(event string, payload interface{}) (WSMessage, bool) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, false
		}
	}
	return WSMessage{Event: event, Data: data}, true
}
