package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/rickgao/order-tracker/internal/broadcast"
	"github.com/rickgao/order-tracker/internal/model"
)

const defaultHandleTimeout = 5 * time.Second

var (
	ErrMalformedMessage = errors.New("malformed status message")
)

// Publisher is satisfied by *broadcast.Broadcaster.
type Publisher interface {
	PublishOrderStatusChanged(ctx context.Context, orderRef, status string) error
}

// Handler is an nsq.Handler that publishes each status message.
type Handler struct {
	pub     Publisher
	logger  *slog.Logger
	timeout time.Duration
}

var _ nsq.Handler = (*Handler)(nil)

// NewHandler creates a Handler.
func NewHandler(pub Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pub:     pub,
		logger:  logger.With("component", "ingest"),
		timeout: defaultHandleTimeout,
	}
}

// HandleMessage implements nsq.Handler. Malformed messages are finished
// without publishing; a failed publish is returned so NSQ requeues it.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	change, err := decode(m.Body)
	if err != nil {
		h.logger.Warn("dropping status message",
			"message_id", string(m.ID[:]),
			"attempts", m.Attempts,
			"error", err,
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	err = h.pub.PublishOrderStatusChanged(ctx, change.OrderRef, change.Status)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broadcast.ErrInvalidStatusChange):
		h.logger.Warn("dropping invalid status change", "order_ref", change.OrderRef, "error", err)
		return nil
	default:
		h.logger.Error("publish failed, requeueing",
			"order_ref", change.OrderRef,
			"attempts", m.Attempts,
			"error", err,
		)
		return fmt.Errorf("publish %s: %w", change.OrderRef, err)
	}
}

func decode(body []byte) (model.StatusChange, error) {
	var change model.StatusChange
	if err := json.Unmarshal(body, &change); err != nil {
		return change, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if change.OrderRef == "" || change.Status == "" {
		return change, fmt.Errorf("%w: orderRef and status are required", ErrMalformedMessage)
	}
	return change, nil
}
