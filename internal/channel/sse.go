package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/order-tracker/internal/model"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// OpenFunc runs once after a stream is registered, typically to subscribe
// it to the order named in the request. A non-nil error ends the stream
// after pending events are written.
type OpenFunc func(ctx context.Context, ch model.Channel) error

// Stream is a text/event-stream push channel. It is write-only: the
// client cannot send frames, so subscriptions are made by OpenFunc.
type Stream struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	cfg     Config
	queue   *Queue[model.Event]
	logger  *slog.Logger

	mu         sync.RWMutex
	subscriber string

	closeOnce sync.Once
	done      chan struct{}
}

// NewStream prepares w for event streaming.
func NewStream(w http.ResponseWriter, cfg Config, logger *slog.Logger) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	id := uuid.New().String()
	return &Stream{
		id:      id,
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		cfg:     cfg,
		queue:   NewQueue[model.Event](cfg.SendBuffer),
		logger:  logger.With("component", "stream", "channel_id", id),
		done:    make(chan struct{}),
	}, nil
}

func (s *Stream) ID() string                 { return s.id }
func (s *Stream) Transport() model.Transport { return model.TransportStream }

// SubscriberID implements model.Channel.
func (s *Stream) SubscriberID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriber
}

// BindSubscriber implements model.Channel.
func (s *Stream) BindSubscriber(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber == "" {
		s.subscriber = id
	}
}

// Send queues ev. It never blocks.
func (s *Stream) Send(ev model.Event) error {
	return s.queue.Push(ev)
}

// Pending implements model.Backlogged.
func (s *Stream) Pending() int {
	return s.queue.Len()
}

// Close ends the stream. The HTTP handler returns on its next loop turn.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.queue.Close()
		close(s.done)
	})
	return nil
}

// Serve registers the stream, writes the stream headers, calls open and
// then writes queued events and keepalive comments until the request
// context ends, the stream is closed, or a write fails.
func (s *Stream) Serve(ctx context.Context, reg Registrar, open OpenFunc) error {
	if err := reg.Register(s); err != nil {
		s.Close()
		http.Error(s.w, "stream unavailable", http.StatusServiceUnavailable)
		return fmt.Errorf("register stream: %w", err)
	}
	defer func() {
		reg.Unregister(s)
		s.Close()
	}()

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	if open != nil {
		if err := open(ctx, s); err != nil {
			// Deliver the ERROR event the subscriber produced, then end.
			if werr := s.flush(); werr != nil {
				s.logger.Debug("flush before close failed", "error", werr)
			}
			return err
		}
	}

	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-s.queue.Ready():
			if err := s.flush(); err != nil {
				s.logger.Warn("write failed", "error", err)
				return err
			}
		case <-keepalive.C:
			if err := s.write([]byte(": keepalive\n\n")); err != nil {
				s.logger.Debug("keepalive failed", "error", err)
				return err
			}
		}
	}
}

func (s *Stream) flush() error {
	for _, ev := range s.queue.DrainTo(0) {
		data, err := ev.Encode()
		if err != nil {
			s.logger.Error("encode event", "event", ev.Type, "error", err)
			continue
		}
		frame := make([]byte, 0, len(data)+8)
		frame = append(frame, "data: "...)
		frame = append(frame, data...)
		frame = append(frame, "\n\n"...)
		if err := s.write(frame); err != nil {
			return fmt.Errorf("write %s: %w", ev.Type, err)
		}
	}
	return nil
}

func (s *Stream) write(frame []byte) error {
	// Not every ResponseWriter supports deadlines.
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
