package order

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a payment token does not resolve.
	ErrNotFound = errors.New("order: not found")
	// ErrStatusConflict is returned when the compare-and-set precondition of
	// a transition fails, typically because a concurrent reconciler settled
	// the order first.
	ErrStatusConflict = errors.New("order: status transition conflict")
	// ErrInvalidTransition is returned when the requested transition is not
	// part of the status DAG.
	ErrInvalidTransition = errors.New("order: invalid status transition")
)

// Store is the single source of truth for order status. The gateway layer
// only requests transitions, never mutates status directly.
type Store interface {
	// GetByToken resolves a payment token to its order.
	GetByToken(ctx context.Context, token string) (Order, error)

	// Transition atomically moves the order to the target status provided
	// its current status is one of from, recording rec (when non-nil) in the
	// same unit of work. Exactly one of two concurrent callers racing on the
	// same token wins; the other receives ErrStatusConflict together with
	// the order as it stood.
	Transition(ctx context.Context, token string, from []Status, to Status, rec *Reconciliation) (Order, error)
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
