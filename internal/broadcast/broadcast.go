package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/order-tracker/internal/metrics"
	"github.com/rickgao/order-tracker/internal/model"
)

var (
	ErrInvalidStatusChange = errors.New("invalid status change")
)

// Fanout delivers an event to live channels. *registry.Registry satisfies it.
type Fanout interface {
	Broadcast(ev model.Event) int
}

// Relay carries status changes to every replica, including this one.
type Relay interface {
	Publish(ctx context.Context, change model.StatusChange) error
}

// Broadcaster publishes order status changes.
type Broadcaster struct {
	fanout  Fanout
	relay   Relay
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// publishMu serialises publishes and deliverMu serialises fan-out, so
	// a channel sees one order's events in publish order.
	publishMu sync.Mutex
	deliverMu sync.Mutex
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithRelay routes publishes through r. Events then reach local channels
// only when r hands them back to DeliverLocal.
func WithRelay(r Relay) Option {
	return func(b *Broadcaster) { b.relay = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broadcaster) { b.metrics = m }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// New creates a Broadcaster delivering through fanout.
func New(fanout Fanout, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		fanout: fanout,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broadcaster")
	return b
}

// PublishOrderStatusChanged announces that orderRef moved to status. It
// returns an error only for empty input or a relay failure; having no
// subscribers is not an error.
func (b *Broadcaster) PublishOrderStatusChanged(ctx context.Context, orderRef, status string) error {
	orderRef = strings.TrimSpace(orderRef)
	status = strings.TrimSpace(status)
	if orderRef == "" {
		return fmt.Errorf("%w: orderRef is required", ErrInvalidStatusChange)
	}
	if status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidStatusChange)
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	change := model.StatusChange{
		OrderRef:   orderRef,
		Status:     status,
		OccurredAt: b.now().UTC(),
	}
	b.metrics.Published()

	if b.relay != nil {
		if err := b.relay.Publish(ctx, change); err != nil {
			b.logger.Error("relay publish failed", "order_ref", orderRef, "error", err)
			return fmt.Errorf("relay status change for %s: %w", orderRef, err)
		}
		return nil
	}

	b.deliver(change)
	return nil
}

// DeliverLocal fans a status change out to this process's channels. The
// relay calls it for every change it receives.
func (b *Broadcaster) DeliverLocal(change model.StatusChange) int {
	if change.OrderRef == "" || change.Status == "" {
		b.logger.Warn("dropping incomplete status change",
			"order_ref", change.OrderRef,
			"status", change.Status,
		)
		return 0
	}

	return b.deliver(change)
}

func (b *Broadcaster) deliver(change model.StatusChange) int {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	at := change.OccurredAt
	if at.IsZero() {
		at = b.now()
	}
	n := b.fanout.Broadcast(model.StatusEvent(change.OrderRef, change.Status, at))
	b.logger.Debug("status change delivered",
		"order_ref", change.OrderRef,
		"status", change.Status,
		"channels", n,
	)
	return n
}
