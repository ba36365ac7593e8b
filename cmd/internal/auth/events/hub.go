// Package events pushes session events to connected clients over WebSocket.
//
// The only event today is device.terminated, emitted when a device session of
// the user is logged out or terminated from another device.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// TypeDeviceTerminated is the event type sent when a device session ends.
const TypeDeviceTerminated = "device.terminated"

// Event is one message pushed to a client.
type Event struct {
	Type     string    `json:"type"`
	DeviceID string    `json:"deviceId,omitempty"`
	At       time.Time `json:"at"`
}

// Hub fans events out to the connections of each user.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, clients: make(map[string]map[*Client]struct{})}
}

// Subscribe registers c for events of c.UserID.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.UserID] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes c. Safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.clients[c.UserID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish delivers ev to every connection of userID without blocking.
// Connections whose queue is full miss the event.
func (h *Hub) Publish(userID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		if !c.offer(ev) {
			h.log.Warn("ws.publish.drop", "user_id", userID, "conn_id", c.ID, "type", ev.Type)
		}
	}
}

// DeviceTerminated publishes a device.terminated event.
func (h *Hub) DeviceTerminated(userID, deviceID string, at time.Time) {
	h.Publish(userID, Event{Type: TypeDeviceTerminated, DeviceID: deviceID, At: at.UTC()})
}
