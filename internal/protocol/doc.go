// Package protocol decodes client frames received on a socket channel and
// dispatches them: SUBSCRIBE_ORDER and UNSUBSCRIBE_ORDER go to the
// subscription router, ping is answered with pong, and anything else is
// answered with an ERROR event.
package protocol
