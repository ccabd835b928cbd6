package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-tix/internal/resilience"
)

// Task is a unit of deferred work, serialized into a Redis sorted set whose
// score is the time the task becomes due.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	DueAt       int64  `json:"due_at"`
}

// Enqueuer schedules tasks in Redis. Tasks carrying an idempotency key are
// admitted once per deduplication window.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if t.Kind == "" {
		return errors.New("queue: task kind is required")
	}
	env := envelope{
		Kind:        t.Kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		DueAt:       time.Now().Add(t.Delay).UnixMilli(),
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = 5
	}

	if env.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, t.Kind, env.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, queueKey(e.Prefix, t.Kind), redis.Z{
		Score:  float64(env.DueAt),
		Member: raw,
	}).Err()
}

// Worker drains due tasks of a single kind and hands them to Handler.
// Failed tasks are rescheduled with exponential backoff until MaxAttempts,
// then parked on a dead letter list.
type Worker struct {
	R           *redis.Client
	Prefix      string
	Kind        string
	Handler     func(context.Context, Task) error
	PollEvery   time.Duration
	RetryBase   time.Duration
	RetryJitter float64
}

// Run blocks until ctx is cancelled.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil || w.Handler == nil || w.Kind == "" {
		return errors.New("queue: worker requires redis client, kind and handler")
	}
	poll := w.PollEvery
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	tick := time.NewTicker(poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		for {
			done, err := w.runOne(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			if done {
				break
			}
		}
	}
}

// runOne pops at most one due task. It reports done=true when the queue has
// no due work left.
func (w Worker) runOne(ctx context.Context) (bool, error) {
	key := queueKey(w.Prefix, w.Kind)
	now := time.Now().UnixMilli()
	members, err := w.R.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return true, err
	}
	if len(members) == 0 {
		return true, nil
	}
	raw := members[0]
	removed, err := w.R.ZRem(ctx, key, raw).Result()
	if err != nil {
		return true, err
	}
	if removed == 0 {
		// another worker claimed it
		return false, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false, nil
	}
	env.Attempt++

	herr := w.Handler(ctx, Task{Kind: env.Kind, Payload: env.Payload, IdempotencyKey: env.Key})
	if herr == nil {
		if env.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
		}
		return false, nil
	}

	if env.Attempt >= env.MaxAttempts {
		if out, err := json.Marshal(env); err == nil {
			_ = w.R.LPush(ctx, dlqKey(w.Prefix, env.Kind), out).Err()
		}
		if env.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
		}
		return false, nil
	}

	env.DueAt = time.Now().Add(resilience.Backoff(w.RetryBase, env.Attempt, w.RetryJitter)).UnixMilli()
	out, err := json.Marshal(env)
	if err != nil {
		return false, nil
	}
	_ = w.R.ZAdd(ctx, key, redis.Z{Score: float64(env.DueAt), Member: out}).Err()
	return false, nil
}

func queueKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind
	}
	return prefix + ":queue:" + kind
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return fmt.Sprintf("queue:dedup:%s:%s", kind, key)
	}
	return fmt.Sprintf("%s:dedup:%s:%s", prefix, kind, key)
}

func dlqKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind + ":dlq"
	}
	return prefix + ":" + kind + ":dlq"
}
