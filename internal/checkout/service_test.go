package checkout_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/checkout"
	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/order"
)

type fakeGateway struct {
	name     string
	began    []gateway.CheckoutRequest
	beginErr error
}

func (f *fakeGateway) Name() string                  { return f.name }
func (f *fakeGateway) Supports(currency string) bool { return currency == "INR" }
func (f *fakeGateway) HasWebhook() bool              { return true }

func (f *fakeGateway) BeginCheckout(_ context.Context, req gateway.CheckoutRequest) (gateway.RedirectTarget, error) {
	if f.beginErr != nil {
		return gateway.RedirectTarget{}, f.beginErr
	}
	f.began = append(f.began, req)
	return gateway.RedirectTarget{Gateway: f.name, URL: "https://pay.example/session"}, nil
}

func (f *fakeGateway) DecodeWebhook(*http.Request, []byte) (string, gateway.Notification, error) {
	return "", gateway.Notification{}, gateway.ErrMalformedNotification
}

func (f *fakeGateway) ParseNotification(gateway.Notification) (gateway.Claim, error) {
	return gateway.Claim{}, nil
}

func (f *fakeGateway) VerifyNotification(context.Context, string, gateway.Notification) (gateway.Claim, bool, error) {
	return gateway.Claim{}, false, nil
}

type topicSink struct {
	topics []string
}

func (s *topicSink) Notify(_ context.Context, ev events.Event) error {
	s.topics = append(s.topics, ev.Topic)
	return nil
}

func draftOrder(token string) order.Order {
	now := time.Now().UTC()
	return order.Order{
		PaymentToken: token,
		Currency:     "INR",
		Status:       order.StatusDraft,
		Items: []order.LineItem{
			{TicketID: "GA", UnitPrice: 5000, Qty: 2},
		},
		Attendees: []order.Attendee{
			{Name: "A B", Email: "a@example.com", Phone: "9876543210"},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newService(store order.Store, g gateway.Gateway, sink *topicSink) *checkout.Service {
	reg := gateway.NewRegistry()
	reg.Register(g)
	return &checkout.Service{
		Store:         store,
		Gateways:      reg,
		Bus:           events.NewBus(sink),
		PublicBaseURL: "https://tix.example.com",
	}
}

func TestBeginMovesDraftToPending(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	store.Put(draftOrder("TOK123"))
	g := &fakeGateway{name: "fakepay"}
	sink := &topicSink{}
	svc := newService(store, g, sink)

	target, err := svc.Begin(context.Background(), "fakepay", "TOK123")
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/session", target.URL)

	require.Len(t, g.began, 1)
	req := g.began[0]
	require.EqualValues(t, 10000, req.Amount)
	require.Equal(t, "a@example.com", req.Buyer.Email)
	require.Contains(t, req.Callbacks.Webhook, "/api/v1/webhooks/payments/fakepay")
	require.Contains(t, req.Callbacks.Return, "payment_token=TOK123")
	require.Contains(t, req.Callbacks.Return, "action=payment_return")
	require.Contains(t, req.Callbacks.Cancel, "action=payment_cancel")

	got, err := store.GetByToken(context.Background(), "TOK123")
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, got.Status)
	require.Equal(t, []string{events.TopicCheckoutStarted}, sink.topics)
}

func TestBeginAgainFromPending(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	store.Put(draftOrder("TOK123"))
	svc := newService(store, &fakeGateway{name: "fakepay"}, &topicSink{})

	_, err := svc.Begin(context.Background(), "fakepay", "TOK123")
	require.NoError(t, err)

	// Abandoned session, buyer retries. The order is already PENDING.
	_, err = svc.Begin(context.Background(), "fakepay", "TOK123")
	require.NoError(t, err)
}

func TestBeginRejectsSettledOrder(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	o := draftOrder("TOK123")
	o.Status = order.StatusCompleted
	store.Put(o)
	svc := newService(store, &fakeGateway{name: "fakepay"}, &topicSink{})

	_, err := svc.Begin(context.Background(), "fakepay", "TOK123")
	require.ErrorIs(t, err, checkout.ErrOrderSettled)
}

func TestBeginErrors(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	o := draftOrder("TOK123")
	o.Currency = "USD"
	store.Put(o)
	svc := newService(store, &fakeGateway{name: "fakepay"}, &topicSink{})

	_, err := svc.Begin(context.Background(), "fakepay", "TOK123")
	require.ErrorIs(t, err, gateway.ErrUnsupportedCurrency)

	_, err = svc.Begin(context.Background(), "nopay", "TOK123")
	require.ErrorIs(t, err, gateway.ErrUnknownGateway)

	_, err = svc.Begin(context.Background(), "fakepay", "MISSING")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestBeginGatewayDownLeavesDraft(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	store.Put(draftOrder("TOK123"))
	g := &fakeGateway{name: "fakepay", beginErr: gateway.ErrGatewayUnavailable}
	svc := newService(store, g, &topicSink{})

	_, err := svc.Begin(context.Background(), "fakepay", "TOK123")
	require.ErrorIs(t, err, gateway.ErrGatewayUnavailable)

	got, err := store.GetByToken(context.Background(), "TOK123")
	require.NoError(t, err)
	require.Equal(t, order.StatusDraft, got.Status)
}
