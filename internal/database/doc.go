// Package database provides connection pool management for the orders database.
//
// The notification service only reads from it: order ownership lookups go
// through orders.PostgresStore, and the health endpoint pings the pool.
package database
