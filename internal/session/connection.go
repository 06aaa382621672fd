package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"kinechat/internal/models"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("connection buffer full")
)

// DefaultBuffer is the number of undelivered events a connection may hold.
const DefaultBuffer = 16

// Connection is the sending half of one client stream. The registry holds
// it; the stream handler drains Events until Done is closed.
type Connection struct {
	sessionID string
	createdAt time.Time
	events    chan models.Event
	done      chan struct{}
	once      sync.Once
	state     atomic.Int32
}

func NewConnection(sessionID string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	c := &Connection{
		sessionID: sessionID,
		createdAt: time.Now().UTC(),
		events:    make(chan models.Event, buffer),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(models.StateConnecting))
	return c
}

func (c *Connection) SessionID() string    { return c.sessionID }
func (c *Connection) CreatedAt() time.Time { return c.createdAt }

// Events is never closed; select on Done as well.
func (c *Connection) Events() <-chan models.Event { return c.events }
func (c *Connection) Done() <-chan struct{}       { return c.done }

func (c *Connection) State() models.SessionState {
	return models.SessionState(c.state.Load())
}

// MarkConnected records that the stream headers reached the client.
func (c *Connection) MarkConnected() {
	c.state.CompareAndSwap(int32(models.StateConnecting), int32(models.StateConnected))
}

// Send queues ev without blocking.
func (c *Connection) Send(ev models.Event) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close is idempotent.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.state.Store(int32(models.StateDisconnected))
		close(c.done)
	})
}
