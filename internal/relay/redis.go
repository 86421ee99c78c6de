package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/order-tracker/internal/config"
	"github.com/rickgao/order-tracker/internal/model"
)

var (
	ErrMalformedPayload = errors.New("malformed relay payload")
)

// Redis publishes and receives status changes on a Redis channel.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// Connect opens a Redis client for cfg and verifies it with PING.
func Connect(ctx context.Context, cfg config.RelayConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedis creates a relay on channel.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "relay", "redis_channel", channel),
	}
}

// Publish sends change to every subscribed replica.
func (r *Redis) Publish(ctx context.Context, change model.StatusChange) error {
	payload, err := Encode(change)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes and calls deliver for every change received until ctx is
// cancelled. Malformed payloads are logged and skipped.
func (r *Redis) Run(ctx context.Context, deliver func(model.StatusChange) int) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return nil
		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("subscription to %s closed", r.channel)
			}
			change, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn("skipping relay message", "error", err)
				continue
			}
			n := deliver(change)
			r.logger.Debug("relayed status change",
				"order_ref", change.OrderRef,
				"status", change.Status,
				"channels", n,
			)
		}
	}
}

// Encode serialises a status change for the wire.
func Encode(change model.StatusChange) ([]byte, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("encode status change: %w", err)
	}
	return data, nil
}

// Decode parses a payload produced by Encode.
func Decode(data []byte) (model.StatusChange, error) {
	var change model.StatusChange
	if err := json.Unmarshal(data, &change); err != nil {
		return change, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if change.OrderRef == "" || change.Status == "" {
		return change, fmt.Errorf("%w: orderRef and status are required", ErrMalformedPayload)
	}
	return change, nil
}
