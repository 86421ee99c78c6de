package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr        = ":8080"
	DefaultSocketPath        = "/ws"
	DefaultStreamPath        = "/events"
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPongWait          = 60 * time.Second
	DefaultReadLimit         = 4096
	DefaultSendBuffer        = 64
	DefaultKeepaliveInterval = 25 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultTokenTTL          = 24 * time.Hour
	DefaultMaxPerChannel     = 20
	DefaultMaxPerOrder       = 256
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultOrdersSource      = OrdersSourcePostgres
	DefaultCacheSize         = 10000
	DefaultCacheTTL          = 5 * time.Minute
	DefaultLookupTimeout     = 3 * time.Second
	DefaultRelayChannel      = "ordertrack:status"
	DefaultIngestTopic       = "order.status"
	DefaultIngestChannel     = "ordertrackd"
	DefaultMaxInFlight       = 32
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *ServerConfig) ApplyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = DefaultSocketPath
	}
	if c.Server.StreamPath == "" {
		c.Server.StreamPath = DefaultStreamPath
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PongWait == 0 {
		c.Server.PongWait = DefaultPongWait
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = DefaultSendBuffer
	}
	if c.Server.KeepaliveInterval == 0 {
		c.Server.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Auth defaults
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	// Subscription caps
	if c.Subscriptions.MaxPerChannel == 0 {
		c.Subscriptions.MaxPerChannel = DefaultMaxPerChannel
	}
	if c.Subscriptions.MaxPerOrder == 0 {
		c.Subscriptions.MaxPerOrder = DefaultMaxPerOrder
	}

	// Orders defaults
	if c.Orders.Source == "" {
		c.Orders.Source = DefaultOrdersSource
	}
	if c.Orders.CacheSize == 0 {
		c.Orders.CacheSize = DefaultCacheSize
	}
	if c.Orders.CacheTTL == 0 {
		c.Orders.CacheTTL = DefaultCacheTTL
	}
	if c.Orders.LookupTimeout == 0 {
		c.Orders.LookupTimeout = DefaultLookupTimeout
	}
	if c.Orders.Source == OrdersSourcePostgres {
		applyDBDefaults(&c.Database)
	}

	// Relay and ingest
	if c.Relay.Channel == "" {
		c.Relay.Channel = DefaultRelayChannel
	}
	if c.Ingest.Topic == "" {
		c.Ingest.Topic = DefaultIngestTopic
	}
	if c.Ingest.Channel == "" {
		c.Ingest.Channel = DefaultIngestChannel
	}
	if c.Ingest.MaxInFlight == 0 {
		c.Ingest.MaxInFlight = DefaultMaxInFlight
	}

	// Metrics and logging
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
