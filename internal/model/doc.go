// Package model defines the shared types of the order notification pipeline.
//
// Conventions:
//   - Wire messages are JSON objects with a "type" field
//   - Timestamps are encoded as ISO-8601 (RFC 3339) strings in UTC
//   - Channel IDs are UUID strings, order references are opaque strings
package model
