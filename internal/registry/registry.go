package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/order-tracker/internal/metrics"
	"github.com/rickgao/order-tracker/internal/model"
)

// Errors
var (
	ErrDuplicateChannel = errors.New("channel already registered")
	ErrClosed           = errors.New("registry closed")
)

// SubscriptionIndex resolves scoped broadcasts and follows channel
// lifecycle. The subscription router implements it.
type SubscriptionIndex interface {
	Track(channelID string)
	Subscribers(orderRef string) []string
	UnsubscribeAll(channelID string)
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Channels    int                     `json:"channels"`
	ByTransport map[model.Transport]int `json:"byTransport"`
	Pending     int                     `json:"pending"` // Queued, unwritten events across channels
}

// Registry holds the live set of push channels.
type Registry struct {
	index   SubscriptionIndex
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	channels map[string]model.Channel
	closed   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty Registry. index may be nil, in which case scoped
// broadcasts reach nobody.
func New(index SubscriptionIndex, opts ...Option) *Registry {
	r := &Registry{
		index:    index,
		logger:   slog.Default(),
		now:      time.Now,
		channels: make(map[string]model.Channel),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Register adds ch to the live set and sends it a CONNECTED acknowledgement.
func (r *Registry) Register(ch model.Channel) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.channels[ch.ID()]; exists {
		r.mu.Unlock()
		return ErrDuplicateChannel
	}
	// Queue the acknowledgement before the channel becomes visible to
	// broadcasts so CONNECTED is always its first event. Send does not block.
	if err := ch.Send(model.ConnectedEvent(ch.ID(), r.now())); err != nil {
		r.mu.Unlock()
		r.logger.Warn("acknowledgement failed, dropping channel",
			"channel_id", ch.ID(),
			"error", err,
		)
		r.metrics.WriteFailed(string(ch.Transport()))
		ch.Close()
		return err
	}
	r.channels[ch.ID()] = ch
	if r.index != nil {
		r.index.Track(ch.ID())
	}
	count := len(r.channels)
	r.mu.Unlock()

	r.metrics.ChannelOpened(string(ch.Transport()))
	r.metrics.EventDelivered(string(model.EventConnected))
	r.logger.Info("channel registered",
		"channel_id", ch.ID(),
		"transport", ch.Transport(),
		"channels", count,
	)
	return nil
}

// Unregister removes ch from the live set and from every subscription.
// Unregistering an unknown channel is a no-op.
func (r *Registry) Unregister(ch model.Channel) {
	r.mu.Lock()
	current, exists := r.channels[ch.ID()]
	if !exists || current != ch {
		r.mu.Unlock()
		return
	}
	delete(r.channels, ch.ID())
	// Still under mu so a concurrent Register of the same ID cannot
	// interleave its Track with this cleanup.
	if r.index != nil {
		r.index.UnsubscribeAll(ch.ID())
	}
	count := len(r.channels)
	r.mu.Unlock()
	r.metrics.ChannelClosed(string(ch.Transport()))
	r.logger.Info("channel unregistered",
		"channel_id", ch.ID(),
		"transport", ch.Transport(),
		"channels", count,
	)
}

// Broadcast delivers ev to every live channel, or to the subscribers of
// ev.OrderRef when the event is scoped. It returns the number of channels
// the event was queued on. Channels whose Send fails are closed and
// unregistered after the delivery pass.
func (r *Registry) Broadcast(ev model.Event) int {
	targets := r.targets(ev)

	delivered := 0
	var failed []model.Channel
	for _, ch := range targets {
		if err := ch.Send(ev); err != nil {
			r.logger.Warn("write failed, dropping channel",
				"channel_id", ch.ID(),
				"order_ref", ev.OrderRef,
				"event", ev.Type,
				"error", err,
			)
			failed = append(failed, ch)
			continue
		}
		delivered++
		r.metrics.EventDelivered(string(ev.Type))
	}

	for _, ch := range failed {
		r.metrics.WriteFailed(string(ch.Transport()))
		r.Unregister(ch)
		ch.Close()
	}

	return delivered
}

// targets snapshots the channels an event should reach.
func (r *Registry) targets(ev model.Event) []model.Channel {
	if !ev.Scoped() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		out := make([]model.Channel, 0, len(r.channels))
		for _, ch := range r.channels {
			out = append(out, ch)
		}
		return out
	}

	if r.index == nil {
		return nil
	}
	ids := r.index.Subscribers(ev.OrderRef)

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := r.channels[id]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Get returns a live channel by ID.
func (r *Registry) Get(id string) (model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Len returns the number of live channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Stats returns channel counts by transport.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Channels:    len(r.channels),
		ByTransport: make(map[model.Transport]int),
	}
	for _, ch := range r.channels {
		stats.ByTransport[ch.Transport()]++
		if b, ok := ch.(model.Backlogged); ok {
			stats.Pending += b.Pending()
		}
	}
	return stats
}

// Close closes and unregisters every channel. Later registrations fail
// with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	snapshot := make([]model.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		snapshot = append(snapshot, ch)
	}
	r.mu.Unlock()

	for _, ch := range snapshot {
		r.Unregister(ch)
		ch.Close()
	}
	r.logger.Info("registry closed", "closed_channels", len(snapshot))
}
