package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/order"
)

func draftOrder(token string) order.Order {
	return order.Order{
		PaymentToken: token,
		Currency:     "INR",
		Status:       order.StatusDraft,
		Items:        []order.LineItem{{TicketID: "GA", UnitPrice: 5000, Qty: 2}},
		Attendees:    []order.Attendee{{Name: "A B", Email: "a@example.com", Phone: "9876543210"}},
	}
}

func TestStatusDAG(t *testing.T) {
	t.Parallel()

	require.True(t, order.CanTransition(order.StatusDraft, order.StatusPending))
	require.True(t, order.CanTransition(order.StatusDraft, order.StatusCompleted))
	require.True(t, order.CanTransition(order.StatusPending, order.StatusFailed))
	require.True(t, order.CanTransition(order.StatusPending, order.StatusCancelled))

	require.False(t, order.CanTransition(order.StatusPending, order.StatusDraft))
	require.False(t, order.CanTransition(order.StatusCompleted, order.StatusFailed))
	require.False(t, order.CanTransition(order.StatusFailed, order.StatusCompleted))
	require.False(t, order.CanTransition(order.StatusRefunded, order.StatusPending))
	require.False(t, order.CanTransition(order.StatusPending, order.StatusRefunded))
}

func TestMemStoreTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := order.NewMemStore()
	st.Put(draftOrder("TOK1"))

	_, err := st.GetByToken(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err := st.Transition(ctx, "TOK1",
		[]order.Status{order.StatusDraft, order.StatusPending},
		order.StatusCompleted,
		&order.Reconciliation{Gateway: "instamojo", Outcome: "success", TransactionID: "MOJO1"})
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, got.Status)
	require.Len(t, st.Reconciliations("TOK1"), 1)

	// Second transition observes the terminal state.
	cur, err := st.Transition(ctx, "TOK1",
		[]order.Status{order.StatusDraft, order.StatusPending},
		order.StatusFailed, nil)
	require.ErrorIs(t, err, order.ErrStatusConflict)
	require.Equal(t, order.StatusCompleted, cur.Status)
	require.Len(t, st.Reconciliations("TOK1"), 1)
}

func TestMemStoreConcurrentCAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := order.NewMemStore()
	st.Put(draftOrder("TOK2"))

	targets := []order.Status{order.StatusCompleted, order.StatusFailed}
	results := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target order.Status) {
			defer wg.Done()
			_, results[i] = st.Transition(ctx, "TOK2",
				[]order.Status{order.StatusDraft, order.StatusPending}, target, nil)
		}(i, target)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, order.ErrStatusConflict)
			conflicts++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, conflicts)

	final, err := st.GetByToken(ctx, "TOK2")
	require.NoError(t, err)
	require.True(t, final.Status.Terminal())
}
