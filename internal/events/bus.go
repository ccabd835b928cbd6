package events

import (
	"context"
	"errors"
	"time"
)

// Event is a domain occurrence routed to interested notifiers. Payload keys
// are small strings; anything heavier belongs behind a queue task.
type Event struct {
	Topic        string
	PaymentToken string
	Payload      map[string]string
	OccurredAt   time.Time
}

// Notifier consumes events. Implementations must tolerate duplicate
// deliveries for the same payment token.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Bus fans an event out to every registered notifier. Delivery is
// synchronous and best effort: one failing notifier does not stop the
// others, and the joined error is returned for logging.
type Bus struct {
	notifiers []Notifier
}

func NewBus(notifiers ...Notifier) *Bus {
	return &Bus{notifiers: notifiers}
}

func (b *Bus) Register(n Notifier) {
	b.notifiers = append(b.notifiers, n)
}

func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	var errs []error
	for _, n := range b.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
