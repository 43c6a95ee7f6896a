package relay

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"github.com/KranzL/shipmates-oss/match-relay/room"
)

var (
	ErrConnClosed   = errors.New("connection closed")
	ErrSlowConsumer = errors.New("outbound queue full")
)

// Transport is the write side of one client connection. WriteEvent is only
// ever called from the connection's writer goroutine; Close may be called
// from anywhere.
type Transport interface {
	WriteEvent(ev Event) error
	Close() error
}

// Conn is one attached client. Outbound events go through an unbounded FIFO
// drained by a single writer, so a peer sees events in the order they were
// queued. maxPending caps how far a client may fall behind before it is cut.
type Conn struct {
	ID   room.ConnID
	Done chan struct{}

	transport  Transport
	limiter    *rate.Limiter
	mu         sync.Mutex
	pending    *queue.Queue
	maxPending int
	wake       chan struct{}
	closeOnce  sync.Once
	sent       atomic.Int64
	dropped    atomic.Int64
}

func newConn(id room.ConnID, t Transport, maxPending int, limiter *rate.Limiter) *Conn {
	return &Conn{
		ID:         id,
		Done:       make(chan struct{}),
		transport:  t,
		limiter:    limiter,
		pending:    queue.New(),
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
	}
}

func (c *Conn) enqueue(ev Event) error {
	c.mu.Lock()
	if c.IsClosed() {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.maxPending > 0 && c.pending.Length() >= c.maxPending {
		c.mu.Unlock()
		return ErrSlowConsumer
	}
	c.pending.Add(ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) next() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.Length() == 0 {
		return Event{}, false
	}
	return c.pending.Remove().(Event), true
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.Done:
			return
		case <-c.wake:
		}
		for {
			ev, ok := c.next()
			if !ok {
				break
			}
			if c.IsClosed() {
				return
			}
			if err := c.transport.WriteEvent(ev); err != nil {
				c.Close()
				return
			}
			c.sent.Add(1)
		}
	}
}

// allow reports whether the client may send another event right now.
func (c *Conn) allow() bool {
	if c.limiter == nil {
		return true
	}
	if c.limiter.Allow() {
		return true
	}
	c.dropped.Add(1)
	return false
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
		c.transport.Close()
	})
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.Done:
		return true
	default:
		return false
	}
}

func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Length()
}

func (c *Conn) Sent() int64 {
	return c.sent.Load()
}

// Dropped counts inbound events refused by the rate limiter.
func (c *Conn) Dropped() int64 {
	return c.dropped.Load()
}
