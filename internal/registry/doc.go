// Package registry implements the Connection Registry.
//
// The Registry:
//   - Tracks every open push channel (SSE streams and WebSockets)
//   - Acknowledges each registration with a CONNECTED event
//   - Broadcasts events globally or to the subscribers of one order
//   - Unregisters channels whose writes fail, without disturbing delivery
//     to the rest
//   - Removes unregistered channels from every subscription set
package registry
