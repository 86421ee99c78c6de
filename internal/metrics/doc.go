// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live push channels by transport
//   - Active subscriptions and denied subscription attempts
//   - Delivered events by type and write failures by transport
//   - Published status changes and client reconnect attempts
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics
