package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/order-tracker/internal/model"
)

// Errors
var (
	ErrGaveUp         = errors.New("gave up reconnecting")
	ErrNotConnected   = errors.New("not connected")
	ErrAlreadyStarted = errors.New("controller already started")
	ErrStopped        = errors.New("controller stopped")
)

// State is the controller's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind identifies a transport event.
type EventKind int

const (
	EventOpened EventKind = iota
	EventMessage
	EventClosed
	EventErrored
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventErrored:
		return "errored"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// TransportEvent is everything the transport reports to the controller.
type TransportEvent struct {
	Kind EventKind
	Conn Conn   // EventOpened
	Data []byte // EventMessage
	Err  error  // EventClosed (optional), EventErrored
}

// Conn is one open client connection.
type Conn interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Run reads until the connection ends, emitting an EventMessage per
	// frame and then exactly one EventClosed or EventErrored.
	Run(emit func(TransportEvent))

	// Close closes the connection. Safe to call more than once.
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Notifier receives controller notifications. Methods are called without
// the controller lock held and must not block for long.
type Notifier interface {
	OnStateChange(from, to State)
	OnStatus(ev model.Event)
	OnError(err error)
	OnGiveUp(err error)
}

// NotifierFuncs implements Notifier with optional callbacks.
type NotifierFuncs struct {
	StateChange func(from, to State)
	Status      func(ev model.Event)
	Error       func(err error)
	GiveUp      func(err error)
}

func (n NotifierFuncs) OnStateChange(from, to State) {
	if n.StateChange != nil {
		n.StateChange(from, to)
	}
}

func (n NotifierFuncs) OnStatus(ev model.Event) {
	if n.Status != nil {
		n.Status(ev)
	}
}

func (n NotifierFuncs) OnError(err error) {
	if n.Error != nil {
		n.Error(err)
	}
}

func (n NotifierFuncs) OnGiveUp(err error) {
	if n.GiveUp != nil {
		n.GiveUp(err)
	}
}

// ServerError is an ERROR event received from the server.
type ServerError struct {
	OrderRef string
	Reason   string
	Message  string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("server error (%s)", e.Reason)
}

// Denied reports whether the server refused the subscription itself, as
// opposed to a transient failure.
func (e *ServerError) Denied() bool {
	switch e.Reason {
	case model.ReasonUnauthorized, model.ReasonNotFound, model.ReasonSubscriptionLimit:
		return true
	}
	return false
}

// Config configures a Controller.
type Config struct {
	OrderRef    string
	Credentials model.Credentials
	MaxAttempts int             // Consecutive failures before giving up
	Backoff     []time.Duration // Delay before attempt n is Backoff[min(n, len)-1]
}

// DefaultConfig returns the standard schedule: 2s, 4s, 8s, 16s, 30s and
// five attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Backoff: []time.Duration{
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
	}
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	URL              string        // ws:// or wss:// socket endpoint
	HandshakeTimeout time.Duration // Max time for the opening handshake
	PingTimeout      time.Duration // Max silence before the connection is considered stale
	WriteTimeout     time.Duration // Write deadline for sends
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}
