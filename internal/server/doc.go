// Package server exposes the push pipeline over HTTP: the WebSocket and
// event-stream channel endpoints, the internal publish endpoint used by the
// order service, and health, stats and metrics endpoints.
package server
