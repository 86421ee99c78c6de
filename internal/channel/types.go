package channel

import (
	"context"
	"time"

	"github.com/rickgao/order-tracker/internal/model"
)

// Registrar is the subset of the connection registry a channel needs.
type Registrar interface {
	Register(ch model.Channel) error
	Unregister(ch model.Channel)
}

// InboundHandler processes one client frame received on a socket.
type InboundHandler interface {
	Handle(ctx context.Context, ch model.Channel, data []byte)
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, ch model.Channel, data []byte)

// Handle calls f.
func (f InboundHandlerFunc) Handle(ctx context.Context, ch model.Channel, data []byte) {
	f(ctx, ch, data)
}

// Config holds per-channel settings.
type Config struct {
	WriteTimeout      time.Duration // Deadline for a single frame write
	PongWait          time.Duration // Socket read deadline, extended by each pong
	ReadLimit         int64         // Max inbound frame size in bytes
	SendBuffer        int           // Outbound queue capacity
	KeepaliveInterval time.Duration // Stream comment interval
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:      5 * time.Second,
		PongWait:          60 * time.Second,
		ReadLimit:         4096,
		SendBuffer:        64,
		KeepaliveInterval: 25 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = def.KeepaliveInterval
	}
	return c
}

// pingPeriod must be shorter than PongWait.
func (c Config) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}
