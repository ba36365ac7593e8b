package events

import "sync"

// Client is one connected websocket.
//
// Send is never closed by the server so concurrent publishers cannot panic;
// done signals shutdown instead.
type Client struct {
	ID     string
	UserID string
	Send   chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id, userID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 16
	}
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan Event, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) offer(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}
