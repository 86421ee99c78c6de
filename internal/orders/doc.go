// Package orders provides authoritative order ownership lookups.
//
// The subscription router asks a Lookup who owns an order reference before
// binding a channel to it. Implementations:
//   - PostgresStore: reads the orders table through pgxpool
//   - MemoryStore: static map for development and tests
//   - CachedStore: expirable LRU in front of another Lookup, with
//     concurrent misses for the same reference collapsed into one query
package orders
