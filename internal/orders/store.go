package orders

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when an order reference does not exist.
var ErrNotFound = errors.New("order not found")

// Lookup resolves the subscriber that owns an order.
type Lookup interface {
	// OrderOwner returns the owning subscriber ID or ErrNotFound.
	OrderOwner(ctx context.Context, orderRef string) (string, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(ctx context.Context, orderRef string) (string, error)

func (f LookupFunc) OrderOwner(ctx context.Context, orderRef string) (string, error) {
	return f(ctx, orderRef)
}

// MemoryStore is an in-memory Lookup.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[string]string
}

// NewMemoryStore creates a MemoryStore seeded with orderRef -> subscriberID.
func NewMemoryStore(owners map[string]string) *MemoryStore {
	m := &MemoryStore{owners: make(map[string]string, len(owners))}
	for ref, owner := range owners {
		m.owners[ref] = owner
	}
	return m
}

// Put records the owner of an order.
func (m *MemoryStore) Put(orderRef, subscriberID string) {
	m.mu.Lock()
	m.owners[orderRef] = subscriberID
	m.mu.Unlock()
}

// OrderOwner implements Lookup.
func (m *MemoryStore) OrderOwner(ctx context.Context, orderRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	owner, ok := m.owners[orderRef]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}
