// Package modeltest provides an in-memory model.Channel for tests.
package modeltest

import (
	"sync"

	"github.com/rickgao/order-tracker/internal/model"
)

// Channel records every event sent to it.
type Channel struct {
	id        string
	transport model.Transport

	mu         sync.Mutex
	subscriber string
	events     []model.Event
	sendErr    error
	closed     bool
}

// NewChannel creates a socket-transport recording channel.
func NewChannel(id string) *Channel {
	return &Channel{id: id, transport: model.TransportSocket}
}

// NewStreamChannel creates a stream-transport recording channel.
func NewStreamChannel(id string) *Channel {
	return &Channel{id: id, transport: model.TransportStream}
}

func (c *Channel) ID() string                 { return c.id }
func (c *Channel) Transport() model.Transport { return c.transport }

func (c *Channel) SubscriberID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriber
}

func (c *Channel) BindSubscriber(id string) {
	c.mu.Lock()
	c.subscriber = id
	c.mu.Unlock()
}

// Send records ev, or returns the configured failure.
func (c *Channel) Send(ev model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return model.ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FailWith makes every later Send return err.
func (c *Channel) FailWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns a copy of the recorded events.
func (c *Channel) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventsOfType returns recorded events with the given type.
func (c *Channel) EventsOfType(typ model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range c.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the most recent event and whether there was one.
func (c *Channel) Last() (model.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return model.Event{}, false
	}
	return c.events[len(c.events)-1], true
}

// Reset forgets recorded events.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}
