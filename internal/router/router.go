package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/order-tracker/internal/metrics"
	"github.com/rickgao/order-tracker/internal/model"
	"github.com/rickgao/order-tracker/internal/orders"
)

// Router maps order references to the channels following them.
type Router interface {
	// Track marks a channel as live so it may subscribe.
	Track(channelID string)

	// Subscribe binds ch to orderRef after authorising creds. It emits
	// SUBSCRIPTION_CONFIRMED or ERROR on ch and returns a *DeniedError on
	// rejection.
	Subscribe(ctx context.Context, ch model.Channel, orderRef string, creds model.Credentials) error

	// Unsubscribe drops one mapping. It reports whether one existed.
	Unsubscribe(channelID, orderRef string) bool

	// UnsubscribeAll drops every mapping of a channel and forgets it.
	UnsubscribeAll(channelID string)

	// Subscribers returns the channel IDs following orderRef.
	Subscribers(orderRef string) []string

	// OrdersFor returns the order references a channel follows.
	OrdersFor(channelID string) []string

	// Stats returns subscription counts.
	Stats() Stats
}

// router is the internal implementation.
type router struct {
	cfg      Config
	owners   orders.Lookup
	verifier TokenVerifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu        sync.RWMutex
	byOrder   map[string]map[string]struct{} // orderRef -> channel IDs
	byChannel map[string]map[string]struct{} // channel ID -> orderRefs; key present while tracked
	pairs     int
}

// Option configures a Router.
type Option func(*router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *router) { r.metrics = m }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *router) { r.now = now }
}

// NewRouter creates a Router backed by an ownership lookup and token verifier.
func NewRouter(cfg Config, owners orders.Lookup, verifier TokenVerifier, opts ...Option) Router {
	def := DefaultConfig()
	if cfg.MaxPerChannel <= 0 {
		cfg.MaxPerChannel = def.MaxPerChannel
	}
	if cfg.MaxPerOrder <= 0 {
		cfg.MaxPerOrder = def.MaxPerOrder
	}

	r := &router{
		cfg:       cfg,
		owners:    owners,
		verifier:  verifier,
		logger:    slog.Default(),
		now:       time.Now,
		byOrder:   make(map[string]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// Track implements Router.
func (r *router) Track(channelID string) {
	r.mu.Lock()
	if _, ok := r.byChannel[channelID]; !ok {
		r.byChannel[channelID] = make(map[string]struct{})
	}
	r.mu.Unlock()
}

// Subscribe implements Router.
func (r *router) Subscribe(ctx context.Context, ch model.Channel, orderRef string, creds model.Credentials) error {
	if orderRef == "" {
		return r.deny(ch, orderRef, model.ReasonMalformed, errors.New("orderRef is required"))
	}

	if err := r.verifier.Verify(creds.SubscriberID, creds.Token); err != nil {
		return r.deny(ch, orderRef, model.ReasonUnauthorized, err)
	}
	if bound := ch.SubscriberID(); bound != "" && bound != creds.SubscriberID {
		return r.deny(ch, orderRef, model.ReasonUnauthorized, errors.New("channel is bound to another subscriber"))
	}

	owner, err := r.owners.OrderOwner(ctx, orderRef)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return r.deny(ch, orderRef, model.ReasonNotFound, nil)
	case err != nil:
		r.logger.Error("ownership lookup failed",
			"channel_id", ch.ID(),
			"order_ref", orderRef,
			"error", err,
		)
		r.sendError(ch, orderRef, model.ReasonInternal, "order lookup failed, try again later")
		return fmt.Errorf("lookup owner of %s: %w", orderRef, err)
	case owner != creds.SubscriberID:
		return r.deny(ch, orderRef, model.ReasonUnauthorized, nil)
	}

	reason, err := r.add(ch, orderRef, creds.SubscriberID)
	if err != nil {
		if reason == "" {
			return err
		}
		return r.deny(ch, orderRef, reason, err)
	}

	r.logger.Debug("subscribed",
		"channel_id", ch.ID(),
		"order_ref", orderRef,
		"subscriber_id", creds.SubscriberID,
	)
	return nil
}

// add queues the confirmation and records the mapping under one lock, so
// no status update for orderRef can reach ch ahead of its confirmation.
// It returns a denial reason for cap violations and, without a reason,
// ErrChannelGone for untracked channels or the confirmation's send error.
func (r *router) add(ch model.Channel, orderRef, subscriberID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderSet, tracked := r.byChannel[ch.ID()]
	if !tracked {
		return "", ErrChannelGone
	}
	_, exists := orderSet[orderRef]
	subs := r.byOrder[orderRef]
	if !exists {
		if len(orderSet) >= r.cfg.MaxPerChannel {
			return model.ReasonSubscriptionLimit, fmt.Errorf("channel follows %d orders (max %d)", len(orderSet), r.cfg.MaxPerChannel)
		}
		if len(subs) >= r.cfg.MaxPerOrder {
			return model.ReasonSubscriptionLimit, fmt.Errorf("order has %d subscribers (max %d)", len(subs), r.cfg.MaxPerOrder)
		}
	}

	if err := ch.Send(model.ConfirmedEvent(orderRef, r.now())); err != nil {
		return "", fmt.Errorf("send confirmation: %w", err)
	}
	ch.BindSubscriber(subscriberID)
	if exists {
		return "", nil
	}

	if subs == nil {
		subs = make(map[string]struct{})
		r.byOrder[orderRef] = subs
	}
	subs[ch.ID()] = struct{}{}
	orderSet[orderRef] = struct{}{}
	r.pairs++
	r.metrics.SetSubscriptions(r.pairs)
	return "", nil
}

// Unsubscribe implements Router.
func (r *router) Unsubscribe(channelID, orderRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderSet, ok := r.byChannel[channelID]
	if !ok {
		return false
	}
	if _, ok := orderSet[orderRef]; !ok {
		return false
	}
	delete(orderSet, orderRef)
	r.removeFromOrder(orderRef, channelID)
	r.metrics.SetSubscriptions(r.pairs)
	return true
}

// UnsubscribeAll implements Router.
func (r *router) UnsubscribeAll(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	orderSet, ok := r.byChannel[channelID]
	if !ok {
		return
	}
	for orderRef := range orderSet {
		r.removeFromOrder(orderRef, channelID)
	}
	delete(r.byChannel, channelID)
	r.metrics.SetSubscriptions(r.pairs)

	if len(orderSet) > 0 {
		r.logger.Debug("channel unsubscribed from all orders",
			"channel_id", channelID,
			"orders", len(orderSet),
		)
	}
}

// removeFromOrder must be called with mu held.
func (r *router) removeFromOrder(orderRef, channelID string) {
	subs, ok := r.byOrder[orderRef]
	if !ok {
		return
	}
	if _, ok := subs[channelID]; !ok {
		return
	}
	delete(subs, channelID)
	r.pairs--
	if len(subs) == 0 {
		delete(r.byOrder, orderRef)
	}
}

// Subscribers implements Router.
func (r *router) Subscribers(orderRef string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byOrder[orderRef]
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	return ids
}

// OrdersFor implements Router.
func (r *router) OrdersFor(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderSet := r.byChannel[channelID]
	refs := make([]string, 0, len(orderSet))
	for ref := range orderSet {
		refs = append(refs, ref)
	}
	return refs
}

// Stats implements Router.
func (r *router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Channels:      len(r.byChannel),
		Orders:        len(r.byOrder),
		Subscriptions: r.pairs,
	}
}

// deny reports a rejected subscribe on the channel and returns the error.
func (r *router) deny(ch model.Channel, orderRef, reason string, cause error) error {
	r.metrics.SubscriptionDenied(reason)
	r.logger.Info("subscription denied",
		"channel_id", ch.ID(),
		"order_ref", orderRef,
		"reason", reason,
		"error", cause,
	)
	r.sendError(ch, orderRef, reason, denialMessage(reason))
	return &DeniedError{OrderRef: orderRef, Reason: reason, Err: cause}
}

func (r *router) sendError(ch model.Channel, orderRef, reason, message string) {
	if err := ch.Send(model.ErrorEvent(orderRef, reason, message, r.now())); err != nil {
		r.logger.Warn("failed to send error event",
			"channel_id", ch.ID(),
			"order_ref", orderRef,
			"error", err,
		)
	}
}

func denialMessage(reason string) string {
	switch reason {
	case model.ReasonUnauthorized:
		return "not authorized to track this order"
	case model.ReasonNotFound:
		return "order not found"
	case model.ReasonSubscriptionLimit:
		return "too many order subscriptions"
	case model.ReasonMalformed:
		return "orderRef is required"
	default:
		return "subscription denied"
	}
}
