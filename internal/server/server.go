package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/order-tracker/internal/channel"
	"github.com/rickgao/order-tracker/internal/ingest"
	"github.com/rickgao/order-tracker/internal/model"
	"github.com/rickgao/order-tracker/internal/registry"
	"github.com/rickgao/order-tracker/internal/router"
)

// Pinger checks a backing store. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher is satisfied by *broadcast.Broadcaster.
type Publisher interface {
	PublishOrderStatusChanged(ctx context.Context, orderRef, status string) error
}

// IngestStats is satisfied by *ingest.Consumer.
type IngestStats interface {
	Stats() ingest.Stats
}

// Config holds HTTP surface settings.
type Config struct {
	SocketPath      string
	StreamPath      string
	MetricsPath     string
	AllowedOrigins  []string
	InternalToken   string
	Channel         channel.Config
	ShutdownTimeout time.Duration
}

// Deps are the pipeline components the server exposes.
type Deps struct {
	Registry  *registry.Registry
	Router    router.Router
	Publisher Publisher
	Inbound   channel.InboundHandler
	Metrics   http.Handler // optional
	DB        Pinger       // optional
	Ingest    IngestStats  // optional
	Logger    *slog.Logger
}

// Server is the ordertrackd HTTP front end.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds the route table.
func New(cfg Config, deps Deps) *Server {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/ws"
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = "/events"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "server"),
		mux:    http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	s.mux.HandleFunc("GET "+cfg.SocketPath, s.handleSocket)
	s.mux.HandleFunc("GET "+cfg.StreamPath, s.handleStream)
	s.mux.HandleFunc("POST /internal/orders/{orderRef}/status", s.handlePublish)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	if deps.Metrics != nil {
		s.mux.Handle("GET "+cfg.MetricsPath, deps.Metrics)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// Open channels are closed through their request contexts, which derive
// from ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sock := channel.NewSocket(ws, s.cfg.Channel, s.logger)
	if err := sock.Serve(r.Context(), s.deps.Registry, s.deps.Inbound); err != nil {
		s.logger.Warn("socket ended", "channel_id", sock.ID(), "error", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	stream, err := channel.NewStream(w, s.cfg.Channel, s.logger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	orderRef := q.Get("orderRef")
	creds := model.Credentials{
		SubscriberID: q.Get("subscriberId"),
		Token:        q.Get("token"),
	}
	open := func(ctx context.Context, ch model.Channel) error {
		return s.deps.Router.Subscribe(ctx, ch, orderRef, creds)
	}

	err = stream.Serve(r.Context(), s.deps.Registry, open)
	switch {
	case err == nil, errors.Is(err, router.ErrSubscriptionDenied):
	default:
		s.logger.Warn("stream ended", "channel_id", stream.ID(), "order_ref", orderRef, "error", err)
	}
}

// originChecker allows any origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
