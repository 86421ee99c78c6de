// Package ingest consumes order status changes from NSQ and publishes them
// through the broadcaster. It is the asynchronous counterpart of the
// internal publish endpoint for order services that emit events to a
// queue instead of calling ordertrackd directly.
package ingest
