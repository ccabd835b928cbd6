package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/obs"
	"github.com/noah-isme/backend-tix/internal/order"
)

// Result summarises what a notification did to the order.
type Result string

const (
	ResultCompleted         Result = "completed"
	ResultFailed            Result = "failed"
	ResultCanceled          Result = "canceled"
	ResultPending           Result = "pending"
	ResultFlagged           Result = "flagged"
	ResultAlreadyReconciled Result = "already_reconciled"
)

// ErrAmountMismatch marks a notification whose asserted amount disagrees
// with the order total. The notification is rejected and the order status is
// left exactly as it was.
var ErrAmountMismatch = errors.New("reconcile: amount mismatch")

// Service applies gateway notifications to orders. Every path is idempotent:
// a replayed notification against a settled order reports AlreadyReconciled
// and changes nothing.
type Service struct {
	Store order.Store
	Bus   *events.Bus
	Log   zerolog.Logger
}

// Reconcile verifies a notification and settles the order it references.
//
// Untrusted claims (amounts asserted by the unauthenticated payload) are
// checked before verification so an obviously wrong notification is flagged
// without spending a verification round trip. Mismatched or malformed
// notifications are rejected without touching order state, since nothing in
// them has been authenticated. Only verification failure parks the order at
// PENDING rather than failing it: a forged or corrupted notification says
// nothing about the real payment.
func (s *Service) Reconcile(ctx context.Context, g gateway.Gateway, token string, n gateway.Notification) (Result, error) {
	ctx, span := otel.Tracer("reconcile.Service").Start(ctx, "ReconcileService.Reconcile")
	defer span.End()

	result := Result("error")
	defer func() {
		span.SetAttributes(
			attribute.String("reconcile.gateway", g.Name()),
			attribute.String("reconcile.result", string(result)),
		)
		if obs.ReconcileTotal != nil {
			obs.ReconcileTotal.WithLabelValues(g.Name(), string(result)).Inc()
		}
	}()

	ord, err := s.Store.GetByToken(ctx, token)
	if err != nil {
		return result, err
	}
	if ord.Status.Terminal() {
		result = ResultAlreadyReconciled
		return result, nil
	}
	total, err := ord.Total()
	if err != nil {
		return result, err
	}

	claim, err := g.ParseNotification(n)
	if err != nil {
		result, err = s.flag(ctx, g, token, "malformed notification")
		return result, err
	}
	if claim.HasAmount && claim.Amount != total {
		result, err = s.flag(ctx, g, token, "amount mismatch")
		if err == nil {
			err = fmt.Errorf("%w: claimed %d, order %d", ErrAmountMismatch, claim.Amount, total)
		}
		return result, err
	}

	verified, ok, err := g.VerifyNotification(ctx, token, n)
	if err != nil {
		return result, err
	}
	if !ok {
		s.park(ctx, token)
		result, err = s.flag(ctx, g, token, "verification failed")
		return result, err
	}
	if verified.HasAmount && verified.Amount != total && verified.Outcome == gateway.OutcomeSuccess {
		result, err = s.flag(ctx, g, token, "amount mismatch")
		if err == nil {
			err = fmt.Errorf("%w: verified %d, order %d", ErrAmountMismatch, verified.Amount, total)
		}
		return result, err
	}

	rec := &order.Reconciliation{
		PaymentToken:  token,
		Gateway:       g.Name(),
		Outcome:       string(verified.Outcome),
		TransactionID: verified.TransactionID,
		Envelope:      n.Raw,
		CreatedAt:     time.Now().UTC(),
	}

	switch verified.Outcome {
	case gateway.OutcomeSuccess:
		return s.settle(ctx, g, token, order.StatusCompleted, rec, events.TopicOrderCompleted, ResultCompleted)
	case gateway.OutcomeFailed:
		return s.settle(ctx, g, token, order.StatusFailed, rec, events.TopicOrderFailed, ResultFailed)
	case gateway.OutcomeCancelled:
		return s.settle(ctx, g, token, order.StatusCancelled, rec, events.TopicOrderCanceled, ResultCanceled)
	default:
		s.park(ctx, token)
		result = ResultPending
		return result, nil
	}
}

// settle runs the compare-and-set transition. Losing the race to another
// notification is not an error: the order is re-read and, if terminal, the
// outcome is AlreadyReconciled.
func (s *Service) settle(ctx context.Context, g gateway.Gateway, token string, to order.Status, rec *order.Reconciliation, topic string, result Result) (Result, error) {
	ord, err := s.Store.Transition(ctx, token, []order.Status{order.StatusDraft, order.StatusPending}, to, rec)
	if err != nil {
		if errors.Is(err, order.ErrStatusConflict) {
			current, gerr := s.Store.GetByToken(ctx, token)
			if gerr == nil && current.Status.Terminal() {
				return ResultAlreadyReconciled, nil
			}
			return Result("error"), err
		}
		return Result("error"), err
	}

	buyer := ord.Buyer()
	s.publish(ctx, events.Event{
		Topic:        topic,
		PaymentToken: token,
		Payload: map[string]string{
			"gateway": g.Name(),
			"email":   buyer.Email,
			"name":    buyer.Name,
		},
	})
	return result, nil
}

// publish emits a domain event. Notifier failures are logged, never allowed
// to undo a settled reconciliation.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(ctx, ev); err != nil {
		s.Log.Warn().Str("topic", ev.Topic).Str("payment_token", ev.PaymentToken).Err(err).Msg("publish event")
	}
}

// flag announces a notification that needs a human look. It never moves the
// state machine; callers that want the order parked do so themselves.
func (s *Service) flag(ctx context.Context, g gateway.Gateway, token, reason string) (Result, error) {
	s.publish(ctx, events.Event{
		Topic:        events.TopicPaymentFlagged,
		PaymentToken: token,
		Payload: map[string]string{
			"gateway": g.Name(),
			"reason":  reason,
		},
	})
	return ResultFlagged, nil
}

// park moves a DRAFT order to PENDING, best effort. An order already past
// DRAFT is left alone.
func (s *Service) park(ctx context.Context, token string) {
	_, _ = s.Store.Transition(ctx, token, []order.Status{order.StatusDraft}, order.StatusPending, nil)
}
