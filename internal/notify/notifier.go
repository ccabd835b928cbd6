package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/queue"
)

// TaskConfirmationEmail is the queue kind for buyer confirmation mail.
const TaskConfirmationEmail = "payment-confirmation-email"

// ConfirmationEmailTask is the queue payload for a confirmation email.
type ConfirmationEmailTask struct {
	PaymentToken string `json:"payment_token"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Gateway      string `json:"gateway"`
}

// EmailNotifier turns completed-order events into queued confirmation
// emails. The queue deduplicates by payment token, so replayed webhooks do
// not mail the buyer twice.
type EmailNotifier struct {
	Q queue.Enqueuer
}

func (n EmailNotifier) Notify(ctx context.Context, ev events.Event) error {
	if ev.Topic != events.TopicOrderCompleted {
		return nil
	}
	payload, err := json.Marshal(ConfirmationEmailTask{
		PaymentToken: ev.PaymentToken,
		Email:        ev.Payload["email"],
		Name:         ev.Payload["name"],
		Gateway:      ev.Payload["gateway"],
	})
	if err != nil {
		return err
	}
	return n.Q.Enqueue(ctx, queue.Task{
		Kind:           TaskConfirmationEmail,
		Payload:        payload,
		IdempotencyKey: ev.PaymentToken,
	})
}

// LogNotifier writes every event to the structured log. Registered last so
// even a failing primary notifier leaves a trace.
type LogNotifier struct {
	L zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev events.Event) error {
	n.L.Info().
		Str("topic", ev.Topic).
		Str("payment_token", ev.PaymentToken).
		Time("occurred_at", ev.OccurredAt).
		Msg("domain event")
	return nil
}

// ConfirmationHandler is the worker-side handler for TaskConfirmationEmail.
func ConfirmationHandler(sender EmailSender, log zerolog.Logger) func(context.Context, queue.Task) error {
	return func(ctx context.Context, t queue.Task) error {
		var task ConfirmationEmailTask
		if err := json.Unmarshal(t.Payload, &task); err != nil {
			log.Error().Err(err).Msg("confirmation task payload malformed")
			return nil
		}
		if task.Email == "" {
			return nil
		}
		err := sender.Send(ctx, Email{
			To:      task.Email,
			Subject: "Your tickets are confirmed",
			Body: fmt.Sprintf("Hi %s,\n\nPayment %s via %s has been received. Your tickets are on their way.\n",
				task.Name, task.PaymentToken, task.Gateway),
		})
		if err != nil {
			return err
		}
		log.Info().Str("payment_token", task.PaymentToken).Msg("confirmation email sent")
		return nil
	}
}
