// Package broadcast is the order domain's entry point into the push
// pipeline. PublishOrderStatusChanged turns a status change into an
// ORDER_STATUS_UPDATE event and fans it out to the channels subscribed to
// the order, either directly or through a cross-replica Relay.
//
// Delivery is fire-and-forget: there is no acknowledgement, no retry and
// no replay for channels that were offline when the event was published.
package broadcast
