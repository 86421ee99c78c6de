package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/order-tracker/internal/model"
	"github.com/rickgao/order-tracker/internal/router"
)

var (
	// ErrMalformedMessage is returned by Decode for frames that are not a
	// JSON object with a type.
	ErrMalformedMessage = errors.New("malformed message")
)

// Subscriptions is the subset of router.Router the handler drives.
type Subscriptions interface {
	Subscribe(ctx context.Context, ch model.Channel, orderRef string, creds model.Credentials) error
	Unsubscribe(channelID, orderRef string) bool
}

// Handler dispatches inbound socket frames.
type Handler struct {
	subs   Subscriptions
	logger *slog.Logger
	now    func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(subs Subscriptions, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subs:   subs,
		logger: logger.With("component", "protocol"),
		now:    time.Now,
	}
}

// Decode parses a client frame.
func Decode(data []byte) (model.InboundMessage, error) {
	var msg model.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return msg, nil
}

// Handle processes one frame from ch. Failures are reported to the client
// as ERROR events and never end the connection.
func (h *Handler) Handle(ctx context.Context, ch model.Channel, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		h.logger.Warn("invalid message", "channel_id", ch.ID(), "error", err)
		h.reply(ch, model.ErrorEvent("", model.ReasonMalformed, "message must be a JSON object with a type", h.now()))
		return
	}

	switch msg.Type {
	case model.InboundPing:
		pong := model.NewEvent(model.EventPong, h.now())
		if ts, ok := msg.PingTime(); ok {
			pong.Timestamp = ts.UTC()
		}
		h.reply(ch, pong)

	case model.InboundSubscribeOrder:
		var creds model.Credentials
		if msg.Auth != nil {
			creds = *msg.Auth
		}
		err := h.subs.Subscribe(ctx, ch, msg.OrderRef, creds)
		switch {
		case err == nil, errors.Is(err, router.ErrSubscriptionDenied):
		case errors.Is(err, router.ErrChannelGone):
			h.logger.Debug("subscribe on closing channel", "channel_id", ch.ID(), "order_ref", msg.OrderRef)
		default:
			h.logger.Warn("subscribe failed",
				"channel_id", ch.ID(),
				"order_ref", msg.OrderRef,
				"error", err,
			)
		}

	case model.InboundUnsubscribeOrder:
		if msg.OrderRef == "" {
			h.reply(ch, model.ErrorEvent("", model.ReasonMalformed, "orderRef is required", h.now()))
			return
		}
		if h.subs.Unsubscribe(ch.ID(), msg.OrderRef) {
			h.logger.Debug("unsubscribed", "channel_id", ch.ID(), "order_ref", msg.OrderRef)
		}

	default:
		h.logger.Debug("unsupported message type", "channel_id", ch.ID(), "type", msg.Type)
		h.reply(ch, model.ErrorEvent("", model.ReasonUnsupported, "unsupported message type "+msg.Type, h.now()))
	}
}

func (h *Handler) reply(ch model.Channel, ev model.Event) {
	if err := ch.Send(ev); err != nil {
		h.logger.Warn("reply failed", "channel_id", ch.ID(), "event", ev.Type, "error", err)
	}
}
