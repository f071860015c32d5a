package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection is one authenticated transport link. A user may hold several at
// once (one per device). Never persisted.
type Connection struct {
	ID        string
	UserID    uuid.UUID
	Username  string
	UserAgent string
	JoinedAt  time.Time
	Socket    *websocket.Conn
	Events    chan Event

	mu     sync.Mutex
	closed bool
}

func NewConnection(userID uuid.UUID, username, userAgent string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Username:  username,
		UserAgent: userAgent,
		JoinedAt:  time.Now().UTC(),
		Events:    make(chan Event, 64),
	}
}

// EnqueueEvent hands an event to the connection's write pump. A full buffer
// drops the event rather than blocking the broadcaster, and a closed
// connection drops it silently: broadcasters snapshot member lists outside
// the hub locks, so they may race Unregister.
func (c *Connection) EnqueueEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Events <- event:
	default:
	}
}

// Close ends the event stream exactly once. Enqueues after Close are no-ops.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Events)
}
