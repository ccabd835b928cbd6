package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/queue"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEnqueueDedupesByKey(t *testing.T) {
	t.Parallel()

	r := newTestRedis(t)
	e := queue.Enqueuer{R: r, Prefix: "tix"}
	ctx := context.Background()

	task := queue.Task{Kind: "payment-confirmation-email", IdempotencyKey: "TOK123", Payload: []byte(`{}`)}
	require.NoError(t, e.Enqueue(ctx, task))
	require.NoError(t, e.Enqueue(ctx, task))

	n, err := r.ZCard(ctx, "tix:queue:payment-confirmation-email").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestWorkerProcessesDueTask(t *testing.T) {
	t.Parallel()

	r := newTestRedis(t)
	e := queue.Enqueuer{R: r}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Enqueue(ctx, queue.Task{
		Kind:           "payment-confirmation-email",
		IdempotencyKey: "TOK123",
		Payload:        []byte(`{"payment_token":"TOK123"}`),
	}))

	var handled atomic.Int32
	w := queue.Worker{
		R:         r,
		Kind:      "payment-confirmation-email",
		PollEvery: 10 * time.Millisecond,
		Handler: func(_ context.Context, task queue.Task) error {
			require.Equal(t, "TOK123", task.IdempotencyKey)
			handled.Add(1)
			cancel()
			return nil
		},
	}
	require.NoError(t, w.Run(ctx))
	require.EqualValues(t, 1, handled.Load())
}

func TestWorkerDeadLettersAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	r := newTestRedis(t)
	e := queue.Enqueuer{R: r}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Enqueue(ctx, queue.Task{
		Kind:        "payment-confirmation-email",
		MaxAttempts: 2,
		Payload:     []byte(`{}`),
	}))

	var attempts atomic.Int32
	w := queue.Worker{
		R:         r,
		Kind:      "payment-confirmation-email",
		PollEvery: 5 * time.Millisecond,
		RetryBase: time.Millisecond,
		Handler: func(context.Context, queue.Task) error {
			attempts.Add(1)
			return errors.New("smtp down")
		},
	}
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	dlq := "queue:payment-confirmation-email:dlq"
	require.Eventually(t, func() bool {
		n, err := r.LLen(context.Background(), dlq).Result()
		return err == nil && n == 1
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	require.GreaterOrEqual(t, attempts.Load(), int32(2))
}
