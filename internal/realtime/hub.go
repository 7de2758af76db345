// Package realtime fans out engine events to topic subscribers. Delivery is
// fire-and-forget for the publisher: every client owns a bounded queue and the
// oldest queued event is dropped when a slow client saturates it.
package realtime

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Global topics. Address-scoped rooms are derived with RiskTopic and
// PortfolioTopic.
const (
	TopicAVSUpdates = "avs_updates"
	TopicMarketData = "market_data"
)

// RiskTopic names the per-address risk metrics room.
func RiskTopic(address string) string {
	return "risk_" + address
}

// PortfolioTopic names the per-address portfolio/bridge room.
func PortfolioTopic(address string) string {
	return "portfolio_" + address
}

// Event is one server-pushed message.
type Event struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type client struct {
	id     string
	queue  chan Event
	topics map[string]struct{}
}

// Hub is the subscription registry: a bidirectional index between topics and
// clients so that a disconnect cleans up with a single lookup.
type Hub struct {
	queueSize int
	logger    zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*client
	topics  map[string]map[string]*client

	onDrop func()
}

// NewHub builds an empty hub. queueSize bounds each client's outbound queue.
func NewHub(queueSize int, logger zerolog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger.With().Str("component", "realtime_hub").Logger(),
		clients:   make(map[string]*client),
		topics:    make(map[string]map[string]*client),
	}
}

// OnDrop installs a counter hook for events dropped under saturation.
func (h *Hub) OnDrop(fn func()) {
	h.onDrop = fn
}

// Attach registers a client and returns its event channel. Attaching an
// already-attached client returns the existing channel.
func (h *Hub) Attach(clientID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[clientID]; ok {
		return existing.queue
	}
	c := &client{
		id:     clientID,
		queue:  make(chan Event, h.queueSize),
		topics: make(map[string]struct{}),
	}
	h.clients[clientID] = c
	return c.queue
}

// Detach removes the client and all of its memberships and closes its channel.
func (h *Hub) Detach(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	for topic := range c.topics {
		if members, live := h.topics[topic]; live {
			delete(members, clientID)
			if len(members) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.clients, clientID)
	close(c.queue)
}

// Subscribe adds a topic membership. Re-subscribing is a no-op; rooms are
// created on demand.
func (h *Hub) Subscribe(clientID, topic string) error {
	if topic == "" {
		return fmt.Errorf("realtime: empty topic")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return fmt.Errorf("realtime: client %s not attached", clientID)
	}
	if _, already := c.topics[topic]; already {
		return nil
	}
	c.topics[topic] = struct{}{}
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]*client)
		h.topics[topic] = members
	}
	members[clientID] = c
	return nil
}

// Unsubscribe removes a topic membership. Unknown memberships are a no-op.
func (h *Hub) Unsubscribe(clientID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(c.topics, topic)
	if members, live := h.topics[topic]; live {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish delivers the event to every client subscribed to topic at call time.
// It never blocks: a saturated client loses its oldest queued event. Unknown
// topics are a legal no-op.
func (h *Hub) Publish(topic string, payload any) int {
	ev := Event{Topic: topic, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.topics[topic]
	if !ok {
		return 0
	}

	delivered := 0
	for _, c := range members {
		select {
		case c.queue <- ev:
			delivered++
			continue
		default:
		}
		// drop-oldest, then retry once
		select {
		case <-c.queue:
			if h.onDrop != nil {
				h.onDrop()
			}
		default:
		}
		select {
		case c.queue <- ev:
			delivered++
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
			h.logger.Debug().Str("client", c.id).Str("topic", topic).Msg("event dropped for saturated client")
		}
	}
	return delivered
}

// Topics lists the client's current memberships.
func (h *Hub) Topics(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		out = append(out, topic)
	}
	return out
}

// ClientCount reports the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
