// Package connection implements the client side of the order tracking
// socket: a reconnection controller that keeps one channel open for one
// order, re-subscribes after every reconnect and gives up after a bounded
// number of consecutive failures.
//
// The controller is a state machine driven by a single entry point,
// Controller.Handle, fed by the transport:
//
//	Disconnected -> Connecting -> Open -> Closed|Errored -> Connecting -> ...
//
// After MaxAttempts consecutive failures it settles in Disconnected with
// Terminal() true and no timer pending. Stop moves it to Stopped from any
// state.
package connection
