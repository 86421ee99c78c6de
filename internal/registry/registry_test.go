package registry

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/order-tracker/internal/model"
	"github.com/rickgao/order-tracker/internal/model/modeltest"
)

// fakeIndex is a minimal SubscriptionIndex.
type fakeIndex struct {
	mu      sync.Mutex
	subs    map[string][]string
	tracked []string
	gone    []string
	onTrack func(channelID string)
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{subs: make(map[string][]string)}
}

func (f *fakeIndex) add(orderRef string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[orderRef] = append(f.subs[orderRef], ids...)
}

func (f *fakeIndex) Track(channelID string) {
	f.mu.Lock()
	f.tracked = append(f.tracked, channelID)
	hook := f.onTrack
	f.mu.Unlock()
	if hook != nil {
		hook(channelID)
	}
}

func (f *fakeIndex) Subscribers(orderRef string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs[orderRef]...)
}

func (f *fakeIndex) UnsubscribeAll(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone = append(f.gone, channelID)
	for ref, ids := range f.subs {
		kept := ids[:0]
		for _, id := range ids {
			if id != channelID {
				kept = append(kept, id)
			}
		}
		f.subs[ref] = kept
	}
}

func fixedClock() time.Time {
	return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestRegistry_RegisterSendsConnected(t *testing.T) {
	r := New(newFakeIndex(), WithClock(fixedClock))
	ch := modeltest.NewChannel("c1")

	require.NoError(t, r.Register(ch))

	events := ch.Events()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventConnected, events[0].Type)
	assert.Equal(t, "c1", events[0].ChannelID)
	assert.Equal(t, fixedClock(), events[0].Timestamp)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := New(newFakeIndex())
	require.NoError(t, r.Register(modeltest.NewChannel("c1")))

	err := r.Register(modeltest.NewChannel("c1"))
	assert.ErrorIs(t, err, ErrDuplicateChannel)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterAckFailure(t *testing.T) {
	index := newFakeIndex()
	r := New(index)
	ch := modeltest.NewChannel("c1")
	ch.FailWith(model.ErrSendQueueFull)

	err := r.Register(ch)
	assert.ErrorIs(t, err, model.ErrSendQueueFull)
	assert.Equal(t, 0, r.Len())
	assert.True(t, ch.Closed())
	assert.Empty(t, index.tracked, "a channel that was never acknowledged is never tracked")
	assert.Empty(t, index.gone)
}

func TestRegistry_ConnectedQueuedBeforeTrack(t *testing.T) {
	index := newFakeIndex()
	r := New(index)
	ch := modeltest.NewChannel("c1")

	var atTrack []model.Event
	index.onTrack = func(string) { atTrack = ch.Events() }

	require.NoError(t, r.Register(ch))
	require.Len(t, atTrack, 1)
	assert.Equal(t, model.EventConnected, atTrack[0].Type)
}

func TestRegistry_ConnectedIsFirstEventUnderBroadcast(t *testing.T) {
	r := New(newFakeIndex())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Broadcast(model.NewEvent(model.EventPong, fixedClock()))
			}
		}
	}()

	channels := make([]*modeltest.Channel, 200)
	for i := range channels {
		channels[i] = modeltest.NewChannel(fmt.Sprintf("c%d", i))
		require.NoError(t, r.Register(channels[i]))
	}
	close(stop)
	wg.Wait()

	for _, ch := range channels {
		events := ch.Events()
		require.NotEmpty(t, events)
		assert.Equal(t, model.EventConnected, events[0].Type, "channel %s", ch.ID())
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	index := newFakeIndex()
	r := New(index)
	ch := modeltest.NewChannel("c1")
	require.NoError(t, r.Register(ch))

	r.Unregister(ch)
	r.Unregister(ch)
	r.Unregister(modeltest.NewChannel("never-registered"))

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []string{"c1"}, index.gone, "index is told exactly once")
}

func TestRegistry_UnregisterStaleInstance(t *testing.T) {
	r := New(newFakeIndex())
	first := modeltest.NewChannel("c1")
	require.NoError(t, r.Register(first))

	// A different instance with the same ID must not evict the live one.
	r.Unregister(modeltest.NewChannel("c1"))

	got, ok := r.Get("c1")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_ReplayMatchesSetSemantics(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		r := New(newFakeIndex())
		channels := make([]*modeltest.Channel, 12)
		for i := range channels {
			channels[i] = modeltest.NewChannel(fmt.Sprintf("c%d", i))
		}

		want := make(map[string]bool)
		for step := 0; step < 200; step++ {
			ch := channels[rng.Intn(len(channels))]
			if rng.Intn(2) == 0 {
				err := r.Register(ch)
				if want[ch.ID()] {
					assert.ErrorIs(t, err, ErrDuplicateChannel)
				} else {
					assert.NoError(t, err)
				}
				want[ch.ID()] = true
			} else {
				r.Unregister(ch)
				delete(want, ch.ID())
			}
		}

		assert.Equal(t, len(want), r.Len(), "round %d", round)
		for _, ch := range channels {
			_, live := r.Get(ch.ID())
			assert.Equal(t, want[ch.ID()], live, "round %d channel %s", round, ch.ID())
		}
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	tests := []struct {
		name         string
		subs         map[string][]string
		event        model.Event
		wantReceived map[string]int
		wantCount    int
	}{
		{
			name:         "global event reaches everyone",
			event:        model.NewEvent(model.EventError, fixedClock()),
			wantReceived: map[string]int{"a": 1, "b": 1, "c": 1},
			wantCount:    3,
		},
		{
			name:         "scoped event reaches subscribers only",
			subs:         map[string][]string{"ORD-1": {"a", "c"}, "ORD-2": {"b"}},
			event:        model.StatusEvent("ORD-1", "SHIPPED", fixedClock()),
			wantReceived: map[string]int{"a": 1, "b": 0, "c": 1},
			wantCount:    2,
		},
		{
			name:         "scoped event without subscribers",
			event:        model.StatusEvent("ORD-9", "SHIPPED", fixedClock()),
			wantReceived: map[string]int{"a": 0, "b": 0, "c": 0},
			wantCount:    0,
		},
		{
			name:         "stale subscriber id is skipped",
			subs:         map[string][]string{"ORD-1": {"a", "ghost"}},
			event:        model.StatusEvent("ORD-1", "PAID", fixedClock()),
			wantReceived: map[string]int{"a": 1, "b": 0, "c": 0},
			wantCount:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := newFakeIndex()
			for ref, ids := range tt.subs {
				index.add(ref, ids...)
			}
			r := New(index)

			chans := map[string]*modeltest.Channel{}
			for _, id := range []string{"a", "b", "c"} {
				ch := modeltest.NewChannel(id)
				require.NoError(t, r.Register(ch))
				ch.Reset()
				chans[id] = ch
			}

			got := r.Broadcast(tt.event)

			assert.Equal(t, tt.wantCount, got)
			for id, want := range tt.wantReceived {
				assert.Len(t, chans[id].Events(), want, "channel %s", id)
			}
		})
	}
}

func TestRegistry_BroadcastWriteFailureIsolated(t *testing.T) {
	index := newFakeIndex()
	r := New(index)

	a := modeltest.NewChannel("a")
	b := modeltest.NewChannel("b")
	c := modeltest.NewChannel("c")
	for _, ch := range []*modeltest.Channel{a, b, c} {
		require.NoError(t, r.Register(ch))
		ch.Reset()
	}
	index.add("ORD-1", "a", "b", "c")
	a.FailWith(errors.New("broken pipe"))

	delivered := r.Broadcast(model.StatusEvent("ORD-1", "SHIPPED", fixedClock()))

	assert.Equal(t, 2, delivered)
	assert.Len(t, b.Events(), 1)
	assert.Len(t, c.Events(), 1)
	assert.True(t, a.Closed())
	_, ok := r.Get("a")
	assert.False(t, ok, "failed channel must be unregistered")
	assert.NotContains(t, index.Subscribers("ORD-1"), "a")
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	index := newFakeIndex()
	r := New(index)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch := modeltest.NewChannel(fmt.Sprintf("c%d", i))
			if err := r.Register(ch); err != nil {
				t.Errorf("Register: %v", err)
				return
			}
			index.add("ORD-1", ch.ID())
			r.Broadcast(model.StatusEvent("ORD-1", "PAID", fixedClock()))
			if i%2 == 0 {
				r.Unregister(ch)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.Len())
}

// backloggedChannel reports every recorded event as pending.
type backloggedChannel struct {
	*modeltest.Channel
}

func (c backloggedChannel) Pending() int { return len(c.Events()) }

func TestRegistry_StatsPending(t *testing.T) {
	r := New(newFakeIndex())
	a := backloggedChannel{modeltest.NewChannel("a")}
	b := backloggedChannel{modeltest.NewChannel("b")}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(modeltest.NewChannel("plain")))

	r.Broadcast(model.NewEvent(model.EventPong, fixedClock()))

	// CONNECTED plus the broadcast on each backlogged channel.
	assert.Equal(t, 4, r.Stats().Pending)
}

func TestRegistry_StatsAndClose(t *testing.T) {
	r := New(newFakeIndex())
	socket := modeltest.NewChannel("s1")
	stream := modeltest.NewStreamChannel("e1")
	require.NoError(t, r.Register(socket))
	require.NoError(t, r.Register(stream))

	stats := r.Stats()
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 1, stats.ByTransport[model.TransportSocket])
	assert.Equal(t, 1, stats.ByTransport[model.TransportStream])

	r.Close()

	assert.Equal(t, 0, r.Len())
	assert.True(t, socket.Closed())
	assert.True(t, stream.Closed())
	assert.ErrorIs(t, r.Register(modeltest.NewChannel("late")), ErrClosed)
}
