// Package relay fans order status changes out across ordertrackd replicas
// over Redis pub/sub. Every replica subscribes to one channel and hands
// each change it receives to the local broadcaster, so a publish on any
// replica reaches subscribers connected to all of them.
package relay
