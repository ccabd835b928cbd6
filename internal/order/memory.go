package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a mutex-guarded in-memory Store. It backs the "memory" store
// driver for local development and the test suites; the compare-and-set
// semantics match the Postgres implementation.
type MemStore struct {
	mu     sync.Mutex
	orders map[string]Order
	recs   map[string][]Reconciliation
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		orders: make(map[string]Order),
		recs:   make(map[string][]Reconciliation),
	}
}

// Put seeds or replaces an order. Intended for tests and development setup.
func (m *MemStore) Put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	m.orders[o.PaymentToken] = o
}

// GetByToken implements Store.
func (m *MemStore) GetByToken(_ context.Context, token string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[token]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// Transition implements Store with a single compare-and-set under the lock.
func (m *MemStore) Transition(_ context.Context, token string, from []Status, to Status, rec *Reconciliation) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[token]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !statusIn(o.Status, from) {
		return o, fmt.Errorf("%w: %s", ErrStatusConflict, o.Status)
	}
	if !CanTransition(o.Status, to) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	m.orders[token] = o
	if rec != nil {
		r := *rec
		r.PaymentToken = token
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = o.UpdatedAt
		}
		m.recs[token] = append(m.recs[token], r)
	}
	return o, nil
}

// Reconciliations returns the audit records stored for a token.
func (m *MemStore) Reconciliations(token string) []Reconciliation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reconciliation, len(m.recs[token]))
	copy(out, m.recs[token])
	return out
}
