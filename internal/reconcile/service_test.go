package reconcile_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/order"
	"github.com/noah-isme/backend-tix/internal/reconcile"
	"github.com/noah-isme/backend-tix/internal/resilience"
	"github.com/noah-isme/backend-tix/internal/signature"
)

const testSalt = "test-salt"

type topicSink struct {
	mu       sync.Mutex
	topics   []string
	failWith error
}

func (s *topicSink) Notify(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, ev.Topic)
	return s.failWith
}

func (s *topicSink) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

func seedOrder(store *order.MemStore, token string, status order.Status) {
	now := time.Now().UTC()
	store.Put(order.Order{
		PaymentToken: token,
		Currency:     "INR",
		Status:       status,
		Items:        []order.LineItem{{TicketID: "GA", UnitPrice: 5000, Qty: 2}},
		Attendees:    []order.Attendee{{Name: "A B", Email: "a@example.com", Phone: "9876543210"}},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

func instamojoGateway() gateway.Instamojo {
	return gateway.NewInstamojo(gateway.Credentials{Salt: testSalt}, "", &resilience.HTTPClient{
		Client: &http.Client{Timeout: time.Second},
	})
}

// signedNotification builds an Instamojo webhook envelope carrying the given
// status and amount, signed with the test salt.
func signedNotification(t *testing.T, g gateway.Instamojo, token, status, amount string) gateway.Notification {
	t.Helper()
	fields := map[string]string{
		"payment_id":         "MOJO1",
		"payment_request_id": "pr-1",
		"status":             status,
		"amount":             amount,
		"buyer":              "a@example.com",
	}
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	form.Set("mac", signature.Sign(fields, testSalt))
	body := form.Encode()

	r := httptest.NewRequest(http.MethodPost,
		"/api/v1/webhooks/payments/instamojo?payment_token="+token,
		strings.NewReader(body))
	gotToken, n, err := g.DecodeWebhook(r, []byte(body))
	require.NoError(t, err)
	require.Equal(t, token, gotToken)
	return n
}

func TestReconcileCompletesPendingOrder(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "100.00")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultCompleted, result)

	got, err := store.GetByToken(context.Background(), "TOK123")
	require.NoError(t, err)
	require.Equal(t, order.StatusCompleted, got.Status)
	require.Equal(t, []string{events.TopicOrderCompleted}, sink.Topics())

	recs := store.Reconciliations("TOK123")
	require.Len(t, recs, 1)
	require.Equal(t, "MOJO1", recs[0].TransactionID)

	// The retried webhook changes nothing.
	result, err = svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultAlreadyReconciled, result)
	require.Len(t, store.Reconciliations("TOK123"), 1)
	require.Equal(t, []string{events.TopicOrderCompleted}, sink.Topics())
}

func TestReconcileFailedOutcome(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Failed", "100.00")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultFailed, result)

	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusFailed, got.Status)
	require.Equal(t, []string{events.TopicOrderFailed}, sink.Topics())
}

func TestReconcileBadSignatureParksOrder(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusDraft)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "100.00")
	n.Fields["status"] = "Failed"
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultFlagged, result)

	// Parked, never failed, on a notification that cannot be trusted.
	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusPending, got.Status)
	require.Equal(t, []string{events.TopicPaymentFlagged}, sink.Topics())
}

func TestReconcileAmountMismatch(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "99.00")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.ErrorIs(t, err, reconcile.ErrAmountMismatch)
	require.Equal(t, reconcile.ResultFlagged, result)

	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusPending, got.Status)
}

func TestReconcileAmountMismatchLeavesDraftUnchanged(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusDraft)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "42.00")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.ErrorIs(t, err, reconcile.ErrAmountMismatch)
	require.Equal(t, reconcile.ResultFlagged, result)

	// A mismatched amount rejects the notification without moving the order:
	// the claim is unauthenticated, so it must not be able to touch state.
	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusDraft, got.Status)
	require.Equal(t, []string{events.TopicPaymentFlagged}, sink.Topics())
}

func TestReconcileMalformedLeavesDraftUnchanged(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusDraft)
	sink := &topicSink{}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "not-a-number")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultFlagged, result)

	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusDraft, got.Status)
	require.Equal(t, []string{events.TopicPaymentFlagged}, sink.Topics())
}

func TestReconcileNotifierFailureKeepsSettlement(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	sink := &topicSink{failWith: errors.New("smtp down")}
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(sink)}
	g := instamojoGateway()

	n := signedNotification(t, g, "TOK123", "Credit", "100.00")
	result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
	require.NoError(t, err)
	require.Equal(t, reconcile.ResultCompleted, result)

	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.Equal(t, order.StatusCompleted, got.Status)
}

func TestReconcileUnknownToken(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	svc := &reconcile.Service{Store: store}
	g := instamojoGateway()

	n := signedNotification(t, g, "MISSING", "Credit", "100.00")
	_, err := svc.Reconcile(context.Background(), g, "MISSING", n)
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestReconcileConcurrentNotifications(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	svc := &reconcile.Service{Store: store, Bus: events.NewBus(&topicSink{})}
	g := instamojoGateway()

	success := signedNotification(t, g, "TOK123", "Credit", "100.00")
	failed := signedNotification(t, g, "TOK123", "Failed", "100.00")

	results := make(chan reconcile.Result, 2)
	var wg sync.WaitGroup
	for _, n := range []gateway.Notification{success, failed} {
		wg.Add(1)
		go func(n gateway.Notification) {
			defer wg.Done()
			result, err := svc.Reconcile(context.Background(), g, "TOK123", n)
			require.NoError(t, err)
			results <- result
		}(n)
	}
	wg.Wait()
	close(results)

	var settled, replayed int
	for result := range results {
		switch result {
		case reconcile.ResultCompleted, reconcile.ResultFailed:
			settled++
		case reconcile.ResultAlreadyReconciled:
			replayed++
		}
	}
	require.Equal(t, 1, settled)
	require.Equal(t, 1, replayed)

	got, _ := store.GetByToken(context.Background(), "TOK123")
	require.True(t, got.Status.Terminal())
	require.Len(t, store.Reconciliations("TOK123"), 1)
}
