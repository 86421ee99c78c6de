package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if !strings.HasPrefix(c.Server.SocketPath, "/") {
		return fmt.Errorf("server.socket_path must start with /, got %q", c.Server.SocketPath)
	}
	if !strings.HasPrefix(c.Server.StreamPath, "/") {
		return fmt.Errorf("server.stream_path must start with /, got %q", c.Server.StreamPath)
	}
	if c.Server.SocketPath == c.Server.StreamPath {
		return errors.New("server.socket_path and server.stream_path must differ")
	}
	if c.Server.SendBuffer < 1 {
		return errors.New("server.send_buffer must be >= 1")
	}
	if c.Server.ReadLimit < 1 {
		return errors.New("server.read_limit must be >= 1")
	}

	if c.Auth.TokenSecret == "" {
		return errors.New("auth.token_secret is required")
	}
	if len(c.Auth.TokenSecret) < 16 {
		return errors.New("auth.token_secret must be at least 16 bytes")
	}

	if c.Subscriptions.MaxPerChannel < 1 {
		return errors.New("subscriptions.max_per_channel must be >= 1")
	}
	if c.Subscriptions.MaxPerOrder < 1 {
		return errors.New("subscriptions.max_per_order must be >= 1")
	}

	switch c.Orders.Source {
	case OrdersSourcePostgres:
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	case OrdersSourceMemory:
	default:
		return fmt.Errorf("orders.source must be %q or %q, got %q", OrdersSourcePostgres, OrdersSourceMemory, c.Orders.Source)
	}
	if c.Orders.CacheSize < 0 {
		return errors.New("orders.cache_size must be >= 0")
	}

	if c.Relay.Enabled && c.Relay.Addr == "" {
		return errors.New("relay.addr is required when relay is enabled")
	}

	if c.Ingest.Enabled {
		if len(c.Ingest.NSQDAddrs) == 0 && len(c.Ingest.LookupdAddrs) == 0 {
			return errors.New("ingest requires nsqd_addrs or lookupd_addrs when enabled")
		}
		if c.Ingest.MaxInFlight < 1 {
			return errors.New("ingest.max_in_flight must be >= 1")
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
