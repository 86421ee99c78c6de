package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/order-tracker/internal/auth"
	"github.com/rickgao/order-tracker/internal/broadcast"
	"github.com/rickgao/order-tracker/internal/channel"
	"github.com/rickgao/order-tracker/internal/config"
	"github.com/rickgao/order-tracker/internal/database"
	"github.com/rickgao/order-tracker/internal/ingest"
	"github.com/rickgao/order-tracker/internal/logging"
	"github.com/rickgao/order-tracker/internal/metrics"
	"github.com/rickgao/order-tracker/internal/orders"
	"github.com/rickgao/order-tracker/internal/protocol"
	"github.com/rickgao/order-tracker/internal/registry"
	"github.com/rickgao/order-tracker/internal/relay"
	"github.com/rickgao/order-tracker/internal/router"
	"github.com/rickgao/order-tracker/internal/server"
	"github.com/rickgao/order-tracker/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		return err
	}
	logger = logger.With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	info := version.Get()
	logger.Info("starting ordertrackd", "version", info.Version, "commit", info.Commit)

	var (
		m           *metrics.Metrics
		metricsHTTP http.Handler
	)
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.MustNew(promReg)
		metricsHTTP = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
	}

	// Order ownership
	var (
		owners orders.Lookup
		db     server.Pinger
	)
	switch cfg.Orders.Source {
	case config.OrdersSourcePostgres:
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect orders database: %w", err)
		}
		defer pool.Close()
		db = pool
		owners = orders.NewPostgresStore(pool)
		logger.Info("connected to orders database", "host", cfg.Database.Host, "name", cfg.Database.Name)
	default:
		owners = orders.NewMemoryStore(cfg.Orders.Owners)
		logger.Warn("using in-memory order ownership", "orders", len(cfg.Orders.Owners))
	}
	if cfg.Orders.CacheSize > 0 {
		owners = orders.NewCachedStore(owners, cfg.Orders.CacheSize, cfg.Orders.CacheTTL, cfg.Orders.LookupTimeout)
	}

	signer, err := auth.NewSigner(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// Pipeline
	rt := router.NewRouter(router.Config{
		MaxPerChannel: cfg.Subscriptions.MaxPerChannel,
		MaxPerOrder:   cfg.Subscriptions.MaxPerOrder,
	}, owners, signer, router.WithLogger(logger), router.WithMetrics(m))
	reg := registry.New(rt, registry.WithLogger(logger), registry.WithMetrics(m))
	defer reg.Close()

	broadcastOpts := []broadcast.Option{broadcast.WithLogger(logger), broadcast.WithMetrics(m)}
	var redisRelay *relay.Redis
	if cfg.Relay.Enabled {
		client, err := relay.Connect(ctx, cfg.Relay)
		if err != nil {
			return err
		}
		defer client.Close()
		redisRelay = relay.NewRedis(client, cfg.Relay.Channel, logger)
		broadcastOpts = append(broadcastOpts, broadcast.WithRelay(redisRelay))
	}
	b := broadcast.New(reg, broadcastOpts...)

	var consumer *ingest.Consumer
	if cfg.Ingest.Enabled {
		consumer, err = ingest.NewConsumer(cfg.Ingest, ingest.NewHandler(b, logger), logger)
		if err != nil {
			return err
		}
	}

	deps := server.Deps{
		Registry:  reg,
		Router:    rt,
		Publisher: b,
		Inbound:   protocol.NewHandler(rt, logger),
		Metrics:   metricsHTTP,
		DB:        db,
		Logger:    logger,
	}
	if consumer != nil {
		deps.Ingest = consumer
	}

	srv := server.New(server.Config{
		SocketPath:     cfg.Server.SocketPath,
		StreamPath:     cfg.Server.StreamPath,
		MetricsPath:    cfg.Metrics.Path,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		InternalToken:  cfg.Auth.InternalToken,
		Channel: channel.Config{
			WriteTimeout:      cfg.Server.WriteTimeout,
			PongWait:          cfg.Server.PongWait,
			ReadLimit:         cfg.Server.ReadLimit,
			SendBuffer:        cfg.Server.SendBuffer,
			KeepaliveInterval: cfg.Server.KeepaliveInterval,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.ListenAddr)
	})
	if redisRelay != nil {
		g.Go(func() error {
			return redisRelay.Run(gctx, b.DeliverLocal)
		})
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("ordertrackd stopped", "error", err)
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Ensure the broadcaster satisfies the ingest and server publishers.
var (
	_ ingest.Publisher = (*broadcast.Broadcaster)(nil)
	_ server.Publisher = (*broadcast.Broadcaster)(nil)
)
