package orders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	owner string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.owner
	return nil
}

type fakeQuerier struct {
	rows  map[string]fakeRow
	query string
}

func (q *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.query = sql
	row, ok := q.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return row
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(map[string]string{"ORD-1": "cust-1"})
	ctx := context.Background()

	owner, err := store.OrderOwner(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", owner)

	_, err = store.OrderOwner(ctx, "ORD-2")
	assert.ErrorIs(t, err, ErrNotFound)

	store.Put("ORD-2", "cust-2")
	owner, err = store.OrderOwner(ctx, "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, "cust-2", owner)
}

func TestPostgresStore_OrderOwner(t *testing.T) {
	dbErr := errors.New("connection reset")
	q := &fakeQuerier{rows: map[string]fakeRow{
		"ORD-1":   {owner: "cust-1"},
		"ORD-ERR": {err: dbErr},
	}}
	store := NewPostgresStore(q)
	ctx := context.Background()

	owner, err := store.OrderOwner(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", owner)
	assert.Equal(t, ownerQuery, q.query)

	_, err = store.OrderOwner(ctx, "ORD-404")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.OrderOwner(ctx, "ORD-ERR")
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCachedStore_CachesPositiveAnswers(t *testing.T) {
	var calls atomic.Int32
	next := LookupFunc(func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		if ref == "ORD-1" {
			return "cust-1", nil
		}
		return "", ErrNotFound
	})
	cache := NewCachedStore(next, 16, time.Minute, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		owner, err := cache.OrderOwner(ctx, "ORD-1")
		require.NoError(t, err)
		assert.Equal(t, "cust-1", owner)
	}
	assert.Equal(t, int32(1), calls.Load())

	for i := 0; i < 2; i++ {
		_, err := cache.OrderOwner(ctx, "ORD-404")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int32(3), calls.Load(), "not-found answers must not be cached")
	assert.Equal(t, 1, cache.Len())
}

func TestCachedStore_CollapsesConcurrentMisses(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	next := LookupFunc(func(ctx context.Context, ref string) (string, error) {
		calls.Add(1)
		<-release
		return "cust-1", nil
	})
	cache := NewCachedStore(next, 16, time.Minute, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner, err := cache.OrderOwner(context.Background(), "ORD-1")
			assert.NoError(t, err)
			assert.Equal(t, "cust-1", owner)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	owner, err := cache.OrderOwner(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", owner)
}

func TestCachedStore_AppliesTimeout(t *testing.T) {
	next := LookupFunc(func(ctx context.Context, ref string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cache := NewCachedStore(next, 16, time.Minute, 10*time.Millisecond)

	_, err := cache.OrderOwner(context.Background(), "ORD-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCachedStore_SharedLookupOutlivesFirstCaller(t *testing.T) {
	started := make(chan struct{})
	var startOnce sync.Once
	release := make(chan struct{})
	next := LookupFunc(func(ctx context.Context, ref string) (string, error) {
		startOnce.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-release:
			return "cust-1", nil
		}
	})
	cache := NewCachedStore(next, 16, time.Minute, time.Second)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.OrderOwner(firstCtx, "ORD-1")
		firstErr <- err
	}()
	<-started

	secondOwner := make(chan string, 1)
	secondErr := make(chan error, 1)
	go func() {
		owner, err := cache.OrderOwner(context.Background(), "ORD-1")
		secondOwner <- owner
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-secondErr)
	assert.Equal(t, "cust-1", <-secondOwner)
	assert.NoError(t, <-firstErr)
	assert.Equal(t, 1, cache.Len())
}
