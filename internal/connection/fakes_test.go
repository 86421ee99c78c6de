package connection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/order-tracker/internal/model"
)

// fakeClock fires timers only when Advance moves past them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Pending returns timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// All returns every timer ever scheduled.
func (c *fakeClock) All() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

// Advance moves time forward and runs due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fakeConn is a Conn whose lifetime the test controls.
type fakeConn struct {
	mu   sync.Mutex
	sent [][]byte
	emit func(TransportEvent)

	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Run(emit func(TransportEvent)) {
	c.mu.Lock()
	c.emit = emit
	c.mu.Unlock()

	select {
	case err := <-c.fail:
		emit(TransportEvent{Kind: EventErrored, Err: err})
	case <-c.closed:
		emit(TransportEvent{Kind: EventClosed})
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emit != nil
}

// deliver emits a server frame as if Run had read it.
func (c *fakeConn) deliver(t *testing.T, data string) {
	t.Helper()
	waitFor(t, c.running)
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	emit(TransportEvent{Kind: EventMessage, Data: []byte(data)})
}

// drop ends Run with an error.
func (c *fakeConn) drop(err error) {
	c.fail <- err
}

func (c *fakeConn) sentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// fakeDialer returns the result of next for each call.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	next  func(n int) (Conn, error)
}

var errRefused = errors.New("connection refused")

func failingDialer() *fakeDialer {
	return &fakeDialer{next: func(int) (Conn, error) { return nil, errRefused }}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()
	return d.next(n)
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recorder collects notifications.
type recorder struct {
	mu       sync.Mutex
	states   []State
	statuses []model.Event
	errs     []error
	giveUp   error
}

func (r *recorder) OnStateChange(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recorder) OnStatus(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, ev)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnGiveUp(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.giveUp = err
}

func (r *recorder) GiveUp() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.giveUp
}

func (r *recorder) Statuses() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.statuses...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
