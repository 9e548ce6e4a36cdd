package dashapi

import (
	"context"
	"sync"
	"sync/atomic"

	"taskdeck/internal/events"
)

const eventBuffer = 64

// EventConn is one open push channel. Events arrive on Events until the
// channel ends; Done is closed and Closed reports true from then on.
type EventConn struct {
	id     string
	events chan events.Event
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newEventConn(id string, cancel context.CancelFunc) *EventConn {
	return &EventConn{
		id:     id,
		events: make(chan events.Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

func (c *EventConn) ID() string {
	return c.id
}

func (c *EventConn) Events() <-chan events.Event {
	return c.events
}

func (c *EventConn) Done() <-chan struct{} {
	return c.done
}

func (c *EventConn) Closed() bool {
	return c.closed.Load()
}

// Err is the reason the channel ended, nil while it is open or after Close.
func (c *EventConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *EventConn) Close() error {
	c.finish(nil)
	return nil
}

func (c *EventConn) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.closed.Store(true)
		c.cancel()
		close(c.done)
	})
}

func (c *EventConn) deliver(ctx context.Context, ev events.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
