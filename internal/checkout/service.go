package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/obs"
	"github.com/noah-isme/backend-tix/internal/order"
)

// ErrOrderSettled is returned when checkout is attempted against an order
// that already reached a terminal status.
var ErrOrderSettled = errors.New("checkout: order already settled")

// Service starts gateway checkouts for draft and pending orders.
type Service struct {
	Store          order.Store
	Gateways       gateway.Registry
	Bus            *events.Bus
	PublicBaseURL  string
	GatewayTimeout time.Duration
	Log            zerolog.Logger
}

// Begin resolves the gateway, prices the order and opens a checkout session.
// The order moves to PENDING before the redirect target is returned, so a
// webhook that races the browser always finds a reconcilable order.
func (s *Service) Begin(ctx context.Context, provider, token string) (gateway.RedirectTarget, error) {
	var zero gateway.RedirectTarget
	if s == nil || s.Store == nil || s.Gateways == nil {
		return zero, errors.New("checkout service not configured")
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.Begin")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("checkout.gateway", provider),
			attribute.String("checkout.result", result),
		)
		if obs.CheckoutTotal != nil {
			obs.CheckoutTotal.WithLabelValues(provider, result).Inc()
		}
	}()

	g, err := s.Gateways.Resolve(provider)
	if err != nil {
		return zero, err
	}
	ord, err := s.Store.GetByToken(ctx, token)
	if err != nil {
		return zero, err
	}
	span.SetAttributes(attribute.String("order.payment_token", token))
	if ord.Status.Terminal() {
		return zero, fmt.Errorf("%w: status %s", ErrOrderSettled, ord.Status)
	}
	if !g.Supports(ord.Currency) {
		return zero, fmt.Errorf("%w: %s does not accept %s", gateway.ErrUnsupportedCurrency, g.Name(), ord.Currency)
	}
	total, err := ord.Total()
	if err != nil {
		return zero, err
	}

	timeout := s.GatewayTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target, err := g.BeginCheckout(callCtx, gateway.CheckoutRequest{
		PaymentToken: token,
		Amount:       total,
		Currency:     ord.Currency,
		Buyer:        buyerOf(ord),
		Callbacks:    s.callbacks(g.Name(), token),
	})
	if err != nil {
		span.RecordError(err)
		return zero, err
	}

	// DRAFT moves to PENDING once the session exists. A concurrent begin or
	// an early webhook may have moved it already; that conflict is benign.
	if _, err := s.Store.Transition(ctx, token, []order.Status{order.StatusDraft}, order.StatusPending, nil); err != nil {
		if !errors.Is(err, order.ErrStatusConflict) {
			return zero, err
		}
		current, gerr := s.Store.GetByToken(ctx, token)
		if gerr != nil {
			return zero, gerr
		}
		if current.Status != order.StatusPending {
			return zero, fmt.Errorf("%w: status %s", ErrOrderSettled, current.Status)
		}
	}

	if s.Bus != nil {
		if err := s.Bus.Publish(ctx, events.Event{
			Topic:        events.TopicCheckoutStarted,
			PaymentToken: token,
			Payload:      map[string]string{"gateway": g.Name(), "amount": gateway.FormatMinor(total)},
		}); err != nil {
			s.Log.Warn().Str("payment_token", token).Err(err).Msg("publish checkout event")
		}
	}
	result = "success"
	return target, nil
}

func buyerOf(ord order.Order) gateway.Buyer {
	a := ord.Buyer()
	return gateway.Buyer{Name: a.Name, Email: a.Email, Phone: a.Phone}
}

// callbacks builds the return and webhook URLs handed to the gateway. The
// token rides along as a query parameter so the webhook and the browser
// return can both recover the order without gateway-specific lookups.
func (s *Service) callbacks(provider, token string) gateway.CallbackURLs {
	base := s.PublicBaseURL
	q := url.Values{"payment_token": {token}}

	ret := url.Values{"payment_token": {token}, "action": {"payment_return"}, "gateway": {provider}}
	cancelQ := url.Values{"payment_token": {token}, "action": {"payment_cancel"}, "gateway": {provider}}
	return gateway.CallbackURLs{
		Return:  base + "/api/v1/payments/return?" + ret.Encode(),
		Cancel:  base + "/api/v1/payments/return?" + cancelQ.Encode(),
		Webhook: base + "/api/v1/webhooks/payments/" + provider + "?" + q.Encode(),
	}
}
