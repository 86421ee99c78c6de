package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nsqio/go-nsq"

	"github.com/rickgao/order-tracker/internal/config"
)

const userAgent = "ordertrackd"

// Consumer subscribes a Handler to an NSQ topic.
type Consumer struct {
	consumer *nsq.Consumer
	cfg      config.IngestConfig
	logger   *slog.Logger
}

// NewConsumer creates a consumer for cfg.Topic/cfg.Channel. It does not
// connect until Run.
func NewConsumer(cfg config.IngestConfig, h nsq.Handler, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.NSQDAddrs) == 0 && len(cfg.LookupdAddrs) == 0 {
		return nil, errors.New("no nsqd or nsqlookupd address configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ingest", "topic", cfg.Topic, "nsq_channel", cfg.Channel)

	nsqConfig := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		nsqConfig.MaxInFlight = cfg.MaxInFlight
	}
	nsqConfig.UserAgent = userAgent

	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, nsqConfig)
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
	consumer.AddHandler(h)

	return &Consumer{consumer: consumer, cfg: cfg, logger: logger}, nil
}

// Run connects and consumes until ctx is cancelled, then stops gracefully.
func (c *Consumer) Run(ctx context.Context) error {
	if len(c.cfg.LookupdAddrs) > 0 {
		if err := c.consumer.ConnectToNSQLookupds(c.cfg.LookupdAddrs); err != nil {
			return fmt.Errorf("connect to nsqlookupd: %w", err)
		}
	} else if err := c.consumer.ConnectToNSQDs(c.cfg.NSQDAddrs); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	c.logger.Info("ingest started")

	select {
	case <-ctx.Done():
		c.consumer.Stop()
		<-c.consumer.StopChan
		c.logger.Info("ingest stopped")
		return nil
	case <-c.consumer.StopChan:
		return errors.New("nsq consumer stopped unexpectedly")
	}
}

// Stats contains consumer counters.
type Stats struct {
	Topic       string `json:"topic"`
	Received    uint64 `json:"received"`
	Finished    uint64 `json:"finished"`
	Requeued    uint64 `json:"requeued"`
	Connections int    `json:"connections"`
}

// Stats returns consumer counters.
func (c *Consumer) Stats() Stats {
	st := c.consumer.Stats()
	return Stats{
		Topic:       c.cfg.Topic,
		Received:    st.MessagesReceived,
		Finished:    st.MessagesFinished,
		Requeued:    st.MessagesRequeued,
		Connections: st.Connections,
	}
}

// nsqLogger forwards go-nsq's log lines to slog.
type nsqLogger struct {
	logger *slog.Logger
}

func (l nsqLogger) Output(calldepth int, s string) error {
	level := slog.LevelInfo
	switch {
	case strings.HasPrefix(s, "ERR"):
		level = slog.LevelError
	case strings.HasPrefix(s, "WRN"):
		level = slog.LevelWarn
	case strings.HasPrefix(s, "DBG"):
		level = slog.LevelDebug
	}
	l.logger.Log(context.Background(), level, strings.TrimSpace(s))
	return nil
}
