package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/order-tracker/internal/model"
)

// Socket is a WebSocket push channel. Outbound events are queued by Send
// and written by a single write pump; inbound frames are read by the read
// pump and passed to an InboundHandler.
type Socket struct {
	id     string
	ws     *websocket.Conn
	cfg    Config
	queue  *Queue[model.Event]
	logger *slog.Logger

	mu         sync.RWMutex
	subscriber string

	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket wraps an upgraded connection. The channel is not registered
// until Serve is called.
func NewSocket(ws *websocket.Conn, cfg Config, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	id := uuid.New().String()
	return &Socket{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		queue:  NewQueue[model.Event](cfg.SendBuffer),
		logger: logger.With("component", "socket", "channel_id", id),
		done:   make(chan struct{}),
	}
}

func (s *Socket) ID() string                 { return s.id }
func (s *Socket) Transport() model.Transport { return model.TransportSocket }

// SubscriberID returns the identity bound by the first successful subscribe.
func (s *Socket) SubscriberID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriber
}

// BindSubscriber implements model.Channel.
func (s *Socket) BindSubscriber(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber == "" {
		s.subscriber = id
	}
}

// Send queues ev for the write pump. It never blocks.
func (s *Socket) Send(ev model.Event) error {
	return s.queue.Push(ev)
}

// Pending implements model.Backlogged.
func (s *Socket) Pending() int {
	return s.queue.Len()
}

// Close sends a close frame and closes the connection. The pumps exit on
// their next read or write.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.queue.Close()
		close(s.done)
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = s.ws.Close()
	})
	return err
}

// Serve registers the socket, runs both pumps and blocks until the
// connection ends or ctx is cancelled. The socket is unregistered and
// closed before Serve returns.
func (s *Socket) Serve(ctx context.Context, reg Registrar, h InboundHandler) error {
	if err := reg.Register(s); err != nil {
		s.Close()
		return fmt.Errorf("register socket: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	s.readPump(ctx, h)

	reg.Unregister(s)
	s.Close()
	wg.Wait()
	return nil
}

func (s *Socket) readPump(ctx context.Context, h InboundHandler) {
	s.ws.SetReadLimit(s.cfg.ReadLimit)
	s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("read error", "error", err)
			} else {
				s.logger.Debug("read loop ended", "error", err)
			}
			return
		}
		// Any inbound frame proves liveness.
		s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		h.Handle(ctx, s, data)
	}
}

func (s *Socket) writePump() {
	ticker := time.NewTicker(s.cfg.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.queue.Ready():
			if err := s.flush(); err != nil {
				s.logger.Warn("write failed", "error", err)
				s.Close()
				return
			}
		case <-ticker.C:
			s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

// flush writes every queued event.
func (s *Socket) flush() error {
	for _, ev := range s.queue.DrainTo(0) {
		data, err := ev.Encode()
		if err != nil {
			s.logger.Error("encode event", "event", ev.Type, "error", err)
			continue
		}
		s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := s.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("write %s: %w", ev.Type, err)
		}
	}
	return nil
}
