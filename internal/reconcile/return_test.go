package reconcile_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/events"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/order"
	"github.com/noah-isme/backend-tix/internal/reconcile"
)

var testPages = reconcile.Pages{
	Success:  "https://tix.example.com/pay/success",
	Pending:  "https://tix.example.com/pay/pending",
	Cancel:   "https://tix.example.com/pay/cancel",
	Failed:   "https://tix.example.com/pay/failed",
	NotFound: "https://tix.example.com/pay/not-found",
}

func newReturnRouter(store *order.MemStore) chi.Router {
	reg := gateway.NewRegistry()
	reg.Register(instamojoGateway())
	h := reconcile.Return{
		Svc:      &reconcile.Service{Store: store, Bus: events.NewBus(&topicSink{})},
		Store:    store,
		Gateways: reg,
		Pages:    testPages,
		Log:      zerolog.Nop(),
	}
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func getReturn(r chi.Router, query string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/payments/return?"+query, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestReturnRedirectsByStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status order.Status
		page   string
	}{
		{order.StatusCompleted, testPages.Success},
		{order.StatusFailed, testPages.Failed},
		{order.StatusCancelled, testPages.Cancel},
		{order.StatusPending, testPages.Pending},
		{order.StatusDraft, testPages.Pending},
	}
	for _, tc := range tests {
		store := order.NewMemStore()
		seedOrder(store, "TOK123", tc.status)
		rec := getReturn(newReturnRouter(store), "payment_token=TOK123&action=payment_return&gateway=instamojo")
		require.Equal(t, http.StatusFound, rec.Code, string(tc.status))
		require.Equal(t, tc.page, rec.Header().Get("Location"), string(tc.status))
	}
}

func TestReturnCancelIsAdvisory(t *testing.T) {
	t.Parallel()

	store := order.NewMemStore()
	seedOrder(store, "TOK123", order.StatusPending)
	rec := getReturn(newReturnRouter(store), "payment_token=TOK123&action=payment_cancel&gateway=instamojo")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, testPages.Cancel, rec.Header().Get("Location"))

	// The cancel click left the order reconcilable.
	got, err := store.GetByToken(context.Background(), "TOK123")
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, got.Status)
}

func TestReturnUnknownToken(t *testing.T) {
	t.Parallel()

	rec := getReturn(newReturnRouter(order.NewMemStore()), "payment_token=GHOST&action=payment_return")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, testPages.NotFound, rec.Header().Get("Location"))

	rec = getReturn(newReturnRouter(order.NewMemStore()), "action=payment_return")
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, testPages.NotFound, rec.Header().Get("Location"))
}
