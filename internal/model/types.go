package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors returned by Channel implementations.
var (
	ErrChannelClosed = errors.New("channel closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// -----------------------------------------------------------------------------
// Channels
// -----------------------------------------------------------------------------

// Transport identifies how a channel pushes events to the client.
type Transport string

const (
	TransportStream Transport = "stream" // text/event-stream response
	TransportSocket Transport = "socket" // WebSocket
)

// Channel is an open server-to-client push connection.
type Channel interface {
	// ID returns the unique connection identifier.
	ID() string

	// Transport returns the transport kind.
	Transport() Transport

	// SubscriberID returns the authenticated subscriber bound to the
	// channel, or "" if none is bound yet.
	SubscriberID() string

	// BindSubscriber associates an authenticated identity with the channel.
	BindSubscriber(id string)

	// Send queues an event for delivery. It must not block on the network.
	Send(ev Event) error

	// Close closes the underlying connection. Safe to call more than once.
	Close() error
}

// Backlogged is implemented by channels that buffer outbound events.
type Backlogged interface {
	// Pending returns the number of queued, unwritten events.
	Pending() int
}

// -----------------------------------------------------------------------------
// Outbound events
// -----------------------------------------------------------------------------

// EventType is the "type" field of a server-to-client message.
type EventType string

const (
	EventConnected             EventType = "CONNECTED"
	EventSubscriptionConfirmed EventType = "SUBSCRIPTION_CONFIRMED"
	EventOrderStatusUpdate     EventType = "ORDER_STATUS_UPDATE"
	EventError                 EventType = "ERROR"
	EventPong                  EventType = "pong"
)

// Error reasons carried in ERROR events.
const (
	ReasonUnauthorized      = "unauthorized"
	ReasonNotFound          = "not-found"
	ReasonMalformed         = "malformed"
	ReasonUnsupported       = "unsupported"
	ReasonSubscriptionLimit = "subscription-limit"
	ReasonInternal          = "internal"
)

// Event is an immutable server-to-client message.
type Event struct {
	Type      EventType `json:"type"`
	OrderRef  string    `json:"orderRef,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ChannelID string    `json:"channelId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Scoped reports whether the event targets the subscribers of one order
// rather than every live channel.
func (e Event) Scoped() bool {
	return e.OrderRef != ""
}

// Encode returns the JSON encoding of the event.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent builds an event stamped with the given time in UTC.
func NewEvent(typ EventType, now time.Time) Event {
	return Event{Type: typ, Timestamp: now.UTC()}
}

// ConnectedEvent acknowledges a freshly registered channel.
func ConnectedEvent(channelID string, now time.Time) Event {
	ev := NewEvent(EventConnected, now)
	ev.ChannelID = channelID
	return ev
}

// ConfirmedEvent acknowledges a subscription.
func ConfirmedEvent(orderRef string, now time.Time) Event {
	ev := NewEvent(EventSubscriptionConfirmed, now)
	ev.OrderRef = orderRef
	return ev
}

// StatusEvent announces an order status change.
func StatusEvent(orderRef, status string, now time.Time) Event {
	ev := NewEvent(EventOrderStatusUpdate, now)
	ev.OrderRef = orderRef
	ev.Status = status
	return ev
}

// ErrorEvent reports a failure back to the client.
func ErrorEvent(orderRef, reason, message string, now time.Time) Event {
	ev := NewEvent(EventError, now)
	ev.OrderRef = orderRef
	ev.Reason = reason
	ev.Message = message
	return ev
}

// -----------------------------------------------------------------------------
// Inbound messages
// -----------------------------------------------------------------------------

// Inbound message types accepted on a socket channel.
const (
	InboundSubscribeOrder   = "SUBSCRIBE_ORDER"
	InboundUnsubscribeOrder = "UNSUBSCRIBE_ORDER"
	InboundPing             = "ping"
)

// Credentials identify the subscriber on a subscribe request.
type Credentials struct {
	SubscriberID string `json:"subscriberId"`
	Token        string `json:"token"`
}

// InboundMessage is a client-to-server message.
type InboundMessage struct {
	Type      string          `json:"type"`
	OrderRef  string          `json:"orderRef,omitempty"`
	Auth      *Credentials    `json:"auth,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"` // RFC 3339 string or Unix milliseconds
}

// PingTime returns the client's timestamp. Strings are read as RFC 3339 and
// numbers as Unix milliseconds. It reports false when the field is absent
// or unreadable.
func (m InboundMessage) PingTime() (time.Time, bool) {
	if len(m.Timestamp) == 0 || string(m.Timestamp) == "null" {
		return time.Time{}, false
	}
	var t time.Time
	if err := json.Unmarshal(m.Timestamp, &t); err == nil {
		return t, true
	}
	var ms float64
	if err := json.Unmarshal(m.Timestamp, &ms); err == nil {
		return time.UnixMilli(int64(ms)), true
	}
	return time.Time{}, false
}

// -----------------------------------------------------------------------------
// Domain events
// -----------------------------------------------------------------------------

// StatusChange is an order status transition announced by the order domain.
// It is the payload carried by the relay and the ingest queue.
type StatusChange struct {
	OrderRef   string    `json:"orderRef"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt,omitempty"`
}
