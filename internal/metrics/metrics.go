package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ordertrack"

// Metrics exposes Prometheus collectors for the notification pipeline.
type Metrics struct {
	channelsActive     *prometheus.GaugeVec
	subscriptions      prometheus.Gauge
	eventsDelivered    *prometheus.CounterVec
	writeFailures      *prometheus.CounterVec
	subscriptionDenied *prometheus.CounterVec
	published          prometheus.Counter
	reconnectAttempts  prometheus.Counter
}

// MustNew constructs Metrics and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer. Registration errors panic,
// mirroring the promauto helpers.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		channelsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "channels_active",
			Help:      "Number of open push channels.",
		}, []string{"transport"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "subscriptions_active",
			Help:      "Number of (order, channel) subscription pairs.",
		}),
		eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "events_delivered_total",
			Help:      "Events queued for delivery on a channel.",
		}, []string{"type"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "write_failures_total",
			Help:      "Channel writes that failed and caused unregistration.",
		}, []string{"transport"}),
		subscriptionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "subscriptions_denied_total",
			Help:      "Subscribe requests rejected, by reason.",
		}, []string{"reason"}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "status_changes_published_total",
			Help:      "Order status changes announced to the pipeline.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnects scheduled by the client controller.",
		}),
	}

	reg.MustRegister(
		m.channelsActive,
		m.subscriptions,
		m.eventsDelivered,
		m.writeFailures,
		m.subscriptionDenied,
		m.published,
		m.reconnectAttempts,
	)
	return m
}

// ChannelOpened records a newly registered channel.
func (m *Metrics) ChannelOpened(transport string) {
	if m == nil {
		return
	}
	m.channelsActive.WithLabelValues(transport).Inc()
}

// ChannelClosed records an unregistered channel.
func (m *Metrics) ChannelClosed(transport string) {
	if m == nil {
		return
	}
	m.channelsActive.WithLabelValues(transport).Dec()
}

// SetSubscriptions sets the current subscription pair count.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// EventDelivered counts one queued event.
func (m *Metrics) EventDelivered(eventType string) {
	if m == nil {
		return
	}
	m.eventsDelivered.WithLabelValues(eventType).Inc()
}

// WriteFailed counts one failed channel write.
func (m *Metrics) WriteFailed(transport string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(transport).Inc()
}

// SubscriptionDenied counts one rejected subscribe.
func (m *Metrics) SubscriptionDenied(reason string) {
	if m == nil {
		return
	}
	m.subscriptionDenied.WithLabelValues(reason).Inc()
}

// Published counts one status change announcement.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.published.Inc()
}

// ReconnectScheduled counts one client reconnect.
func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}
