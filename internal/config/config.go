package config

import "time"

// ServerConfig is the root configuration for an ordertrackd instance.
type ServerConfig struct {
	Instance      InstanceConfig      `yaml:"instance"`
	Server        HTTPConfig          `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Database      DBConfig            `yaml:"database"`
	Orders        OrdersConfig        `yaml:"orders"`
	Relay         RelayConfig         `yaml:"relay"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// InstanceConfig identifies this replica.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds listener and push channel settings.
type HTTPConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	SocketPath        string        `yaml:"socket_path"`        // WebSocket endpoint
	StreamPath        string        `yaml:"stream_path"`        // text/event-stream endpoint
	AllowedOrigins    []string      `yaml:"allowed_origins"`    // Socket Origin allow-list, empty allows any
	WriteTimeout      time.Duration `yaml:"write_timeout"`      // Per-frame write deadline
	PongWait          time.Duration `yaml:"pong_wait"`          // Max silence before a socket is considered dead
	ReadLimit         int64         `yaml:"read_limit"`         // Max inbound frame size in bytes
	SendBuffer        int           `yaml:"send_buffer"`        // Per-channel outbound queue length
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"` // SSE comment interval
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig holds session token and internal endpoint secrets.
type AuthConfig struct {
	TokenSecret   string        `yaml:"token_secret"`   // HMAC key for session tokens
	TokenTTL      time.Duration `yaml:"token_ttl"`      // Lifetime of issued tokens
	InternalToken string        `yaml:"internal_token"` // Shared secret for the publish endpoint
}

// SubscriptionsConfig bounds subscription memory.
type SubscriptionsConfig struct {
	MaxPerChannel int `yaml:"max_per_channel"`
	MaxPerOrder   int `yaml:"max_per_order"`
}

// DBConfig holds the orders database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Order ownership sources.
const (
	OrdersSourcePostgres = "postgres"
	OrdersSourceMemory   = "memory"
)

// OrdersConfig configures order ownership lookups.
type OrdersConfig struct {
	Source        string            `yaml:"source"` // "postgres" or "memory"
	CacheSize     int               `yaml:"cache_size"`
	CacheTTL      time.Duration     `yaml:"cache_ttl"`
	LookupTimeout time.Duration     `yaml:"lookup_timeout"`
	Owners        map[string]string `yaml:"owners"` // orderRef -> subscriberID, memory source only
}

// RelayConfig configures the Redis cross-replica relay.
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// IngestConfig configures the NSQ order status consumer.
type IngestConfig struct {
	Enabled      bool     `yaml:"enabled"`
	NSQDAddrs    []string `yaml:"nsqd_addrs"`
	LookupdAddrs []string `yaml:"lookupd_addrs"`
	Topic        string   `yaml:"topic"`
	Channel      string   `yaml:"channel"`
	MaxInFlight  int      `yaml:"max_in_flight"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects log level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
