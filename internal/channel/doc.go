// Package channel implements the server side of push channels: a
// WebSocket channel with read and write pumps, and a text/event-stream
// channel. Both satisfy model.Channel and queue outbound events on a
// bounded per-channel Queue so a slow client never blocks a broadcast.
package channel
