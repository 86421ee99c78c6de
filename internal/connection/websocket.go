package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials the order tracking socket with gorilla/websocket.
type WebSocketDialer struct {
	cfg    ClientConfig
	header http.Header
	logger *slog.Logger
}

// NewWebSocketDialer creates a dialer for cfg.URL.
func NewWebSocketDialer(cfg ClientConfig, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = def.PingTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	return &WebSocketDialer{cfg: cfg, header: header, logger: logger}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, d.cfg.URL, d.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}
	d.logger.Debug("websocket connected", "url", d.cfg.URL)
	return newWSConn(ws, d.cfg, d.logger), nil
}

// wsConn implements Conn over a gorilla connection.
type wsConn struct {
	ws     *websocket.Conn
	cfg    ClientConfig
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(ws *websocket.Conn, cfg ClientConfig, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Send writes one text frame.
func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

// Run reads frames until the connection ends.
func (c *wsConn) Run(emit func(TransportEvent)) {
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))

	// Server sends ping, we respond with pong
	c.ws.SetPingHandler(func(data string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop()
	}()
	defer wg.Wait()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			emit(c.terminalEvent(err))
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
		emit(TransportEvent{Kind: EventMessage, Data: data})
	}
}

// terminalEvent classifies the error that ended the read loop.
func (c *wsConn) terminalEvent(err error) TransportEvent {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return TransportEvent{Kind: EventClosed, Err: fmt.Errorf("server closed connection: %w", err)}
	}
	return TransportEvent{Kind: EventErrored, Err: fmt.Errorf("read: %w", err)}
}

// heartbeatLoop pings the server so a silent connection is detected.
func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker((c.cfg.PingTimeout * 9) / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
