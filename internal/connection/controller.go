package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/order-tracker/internal/metrics"
	"github.com/rickgao/order-tracker/internal/model"
)

// Controller keeps a subscription to one order alive across reconnects.
type Controller struct {
	cfg      Config
	dialer   Dialer
	clock    Clock
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	state    State
	terminal bool
	attempt  int
	lastErr  error
	status   string
	denied   bool
	conn     Conn
	timer    Timer
	started  bool

	// gen identifies the current dial. Events from an older dial, or from
	// any dial after Stop, are dropped.
	gen uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for reconnect timers.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithNotifier sets the notification sink.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// NewController creates a controller for cfg.OrderRef. Nothing is dialled
// until Start.
func NewController(cfg Config, dialer Dialer, opts ...Option) *Controller {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}

	c := &Controller{
		cfg:      cfg,
		dialer:   dialer,
		clock:    realClock{},
		notifier: NotifierFuncs{},
		logger:   slog.Default(),
		state:    StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "controller", "order_ref", cfg.OrderRef)
	return c
}

// Start dials the first connection. ctx bounds every dial; cancelling it
// has the same effect as Stop for pending dials but leaves the state
// machine running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return ErrStopped
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	effects := c.beginDial()
	c.mu.Unlock()

	run(effects)
	return nil
}

// Reconnect restarts a controller that gave up, resetting the attempt
// count. It is a no-op unless Terminal() is true.
func (c *Controller) Reconnect() {
	c.mu.Lock()
	if !c.terminal || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.terminal = false
	c.attempt = 0
	c.lastErr = nil
	effects := c.beginDial()
	c.mu.Unlock()

	run(effects)
}

// Stop closes the connection, cancels any pending reconnect and waits for
// transport goroutines to exit. Later transport events are ignored and no
// dial happens after Stop returns. Stop must not be called from a Notifier
// callback.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateStopped
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.notifier.OnStateChange(from, StateStopped)
	c.wg.Wait()
	c.logger.Debug("controller stopped")
}

// Handle applies one transport event to the current connection.
func (c *Controller) Handle(ev TransportEvent) {
	c.mu.Lock()
	effects := c.transition(ev)
	c.mu.Unlock()
	run(effects)
}

// Send writes a raw frame on the open connection.
func (c *Controller) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Send(data)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminal reports whether the controller gave up reconnecting.
func (c *Controller) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// Attempt returns the number of consecutive failures so far.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// LastError returns the most recent transport error.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Status returns the last order status received.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// effect runs after the lock is released.
type effect func()

func run(effects []effect) {
	for _, f := range effects {
		f()
	}
}

// sink returns the emit function handed to the transport for dial gen.
func (c *Controller) sink(gen uint64) func(TransportEvent) {
	return func(ev TransportEvent) {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			if ev.Kind == EventOpened && ev.Conn != nil {
				ev.Conn.Close()
			}
			return
		}
		effects := c.transition(ev)
		c.mu.Unlock()
		run(effects)
	}
}

// setState must be called with mu held.
func (c *Controller) setState(to State) []effect {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	return []effect{func() { c.notifier.OnStateChange(from, to) }}
}

// beginDial must be called with mu held.
func (c *Controller) beginDial() []effect {
	c.gen++
	gen := c.gen
	ctx := c.ctx
	effects := c.setState(StateConnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		emit := c.sink(gen)
		conn, err := c.dialer.Dial(ctx)
		if err != nil {
			emit(TransportEvent{Kind: EventErrored, Err: err})
			return
		}
		emit(TransportEvent{Kind: EventOpened, Conn: conn})
	}()
	return effects
}

// transition is the state machine. It must be called with mu held.
func (c *Controller) transition(ev TransportEvent) []effect {
	if c.state == StateStopped {
		if ev.Kind == EventOpened && ev.Conn != nil {
			return []effect{func() { ev.Conn.Close() }}
		}
		return nil
	}

	switch ev.Kind {
	case EventOpened:
		return c.onOpened(ev.Conn)
	case EventMessage:
		return c.onMessage(ev.Data)
	case EventClosed, EventErrored:
		return c.onFailure(ev)
	default:
		c.logger.Warn("unknown transport event", "kind", ev.Kind)
		return nil
	}
}

func (c *Controller) onOpened(conn Conn) []effect {
	if conn == nil {
		return nil
	}
	if c.terminal {
		return []effect{func() { conn.Close() }}
	}

	c.conn = conn
	c.attempt = 0
	c.lastErr = nil
	effects := c.setState(StateOpen)
	c.logger.Info("connected")

	gen := c.gen
	c.wg.Add(1)
	effects = append(effects, func() {
		go func() {
			defer c.wg.Done()
			conn.Run(c.sink(gen))
		}()
	})

	if c.denied {
		return effects
	}
	msg, err := c.subscribeMessage()
	if err != nil {
		c.logger.Error("encode subscribe", "error", err)
		return effects
	}
	return append(effects, func() {
		if err := conn.Send(msg); err != nil {
			c.logger.Warn("subscribe send failed", "error", err)
		}
	})
}

func (c *Controller) subscribeMessage() ([]byte, error) {
	creds := c.cfg.Credentials
	return json.Marshal(model.InboundMessage{
		Type:     model.InboundSubscribeOrder,
		OrderRef: c.cfg.OrderRef,
		Auth:     &creds,
	})
}

func (c *Controller) onMessage(data []byte) []effect {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
		c.logger.Warn("malformed server message", "data", string(data), "error", err)
		return nil
	}

	switch ev.Type {
	case model.EventOrderStatusUpdate:
		if ev.OrderRef != c.cfg.OrderRef {
			c.logger.Debug("status for another order", "event_order_ref", ev.OrderRef)
			return nil
		}
		c.status = ev.Status
		return []effect{func() { c.notifier.OnStatus(ev) }}

	case model.EventError:
		serr := &ServerError{OrderRef: ev.OrderRef, Reason: ev.Reason, Message: ev.Message}
		if serr.Denied() {
			c.denied = true
		}
		c.logger.Warn("server error", "reason", ev.Reason, "message", ev.Message)
		return []effect{func() { c.notifier.OnError(serr) }}

	case model.EventConnected, model.EventSubscriptionConfirmed, model.EventPong:
		c.logger.Debug("server message", "type", ev.Type)
		return nil

	default:
		c.logger.Debug("ignoring unknown message type", "type", ev.Type)
		return nil
	}
}

func (c *Controller) onFailure(ev TransportEvent) []effect {
	if c.terminal {
		return nil
	}

	var effects []effect
	if conn := c.conn; conn != nil {
		c.conn = nil
		effects = append(effects, func() { conn.Close() })
	}

	next := StateClosed
	if ev.Kind == EventErrored {
		next = StateErrored
	}
	effects = append(effects, c.setState(next)...)

	c.attempt++
	if ev.Err != nil {
		c.lastErr = ev.Err
	} else {
		c.lastErr = errors.New("connection closed")
	}

	if c.attempt > c.cfg.MaxAttempts {
		c.terminal = true
		effects = append(effects, c.setState(StateDisconnected)...)
		giveUp := fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, c.cfg.MaxAttempts, c.lastErr)
		c.logger.Error("giving up, please refresh", "attempts", c.cfg.MaxAttempts, "error", c.lastErr)
		return append(effects, func() { c.notifier.OnGiveUp(giveUp) })
	}

	delay := c.backoff(c.attempt)
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(delay, func() { c.redial(gen) })
	c.metrics.ReconnectScheduled()
	c.logger.Info("reconnecting",
		"attempt", c.attempt,
		"delay", delay,
		"error", c.lastErr,
	)
	return effects
}

// backoff returns the delay before attempt n (1-based).
func (c *Controller) backoff(n int) time.Duration {
	i := n
	if i > len(c.cfg.Backoff) {
		i = len(c.cfg.Backoff)
	}
	return c.cfg.Backoff[i-1]
}

func (c *Controller) redial(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	effects := c.beginDial()
	c.mu.Unlock()
	run(effects)
}
