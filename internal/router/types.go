package router

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrSubscriptionDenied = errors.New("subscription denied")
	ErrChannelGone        = errors.New("channel is not registered")
)

// DeniedError reports why a subscribe request was rejected.
// It matches ErrSubscriptionDenied with errors.Is.
type DeniedError struct {
	OrderRef string
	Reason   string // model.Reason* value
	Err      error  // Underlying cause, may be nil
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("subscription to %q denied (%s): %v", e.OrderRef, e.Reason, e.Err)
	}
	return fmt.Sprintf("subscription to %q denied (%s)", e.OrderRef, e.Reason)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrSubscriptionDenied
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

// TokenVerifier checks a subscriber's session token.
type TokenVerifier interface {
	Verify(subscriberID, token string) error
}

// Config bounds subscription memory.
type Config struct {
	MaxPerChannel int // Orders one channel may follow
	MaxPerOrder   int // Channels that may follow one order
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPerChannel: 20,
		MaxPerOrder:   256,
	}
}

// Stats contains subscription counts.
type Stats struct {
	Channels      int `json:"channels"`      // Tracked channels
	Orders        int `json:"orders"`        // Orders with at least one subscriber
	Subscriptions int `json:"subscriptions"` // (order, channel) pairs
}
