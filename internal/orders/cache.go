package orders

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CachedStore caches ownership answers from another Lookup.
// Only positive answers are cached so newly created orders become visible
// on the next lookup.
type CachedStore struct {
	next    Lookup
	cache   *expirable.LRU[string, string]
	group   singleflight.Group
	timeout time.Duration
}

// NewCachedStore wraps next with an LRU of the given size and TTL.
// timeout bounds each underlying lookup; zero means no extra bound.
func NewCachedStore(next Lookup, size int, ttl, timeout time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		cache:   expirable.NewLRU[string, string](size, nil, ttl),
		timeout: timeout,
	}
}

// OrderOwner implements Lookup.
func (c *CachedStore) OrderOwner(ctx context.Context, orderRef string) (string, error) {
	if owner, ok := c.cache.Get(orderRef); ok {
		return owner, nil
	}

	// The flight is shared by every waiting caller, so it must not end
	// when the caller that started it goes away.
	v, err, _ := c.group.Do(orderRef, func() (any, error) {
		lookupCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, c.timeout)
			defer cancel()
		}
		owner, err := c.next.OrderOwner(lookupCtx, orderRef)
		if err != nil {
			return "", err
		}
		c.cache.Add(orderRef, owner)
		return owner, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}
