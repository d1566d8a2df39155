// Package notify fans committed ledger changes out to push transports.
package notify

import (
	"context"
	"slices"
	"sync"

	"github.com/goccy/go-json"

	"civicq/records-service/internal/logging"
	"civicq/records-service/internal/metrics"
	"civicq/records-service/internal/models"
)

// Subscription filters the events a client receives. Empty fields match
// everything.
type Subscription struct {
	Entities []string
	EntityID string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type SubscribeMessage struct {
	Action   string   `json:"action"`
	Entities []string `json:"entities"`
	EntityID string   `json:"entity_id"`
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	metrics.RealtimeSessions.Set(float64(len(h.clients)))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	metrics.RealtimeSessions.Set(float64(len(h.clients)))
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues the event for every matching client. Slow clients drop
// messages rather than block the relay.
func (h *Hub) Broadcast(event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, event) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			logging.Warn().Str("client_id", client.ID).Int64("seq", event.Seq).Msg("drop message for slow client")
		}
	}
	return nil
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Publish(_ context.Context, event models.ChangeEvent) error {
	return h.Broadcast(event)
}

func match(sub Subscription, event models.ChangeEvent) bool {
	if len(sub.Entities) > 0 && !slices.Contains(sub.Entities, event.Entity) {
		return false
	}
	if sub.EntityID != "" && sub.EntityID != event.EntityID {
		return false
	}
	return true
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
