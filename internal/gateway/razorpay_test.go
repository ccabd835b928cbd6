package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tix/internal/gateway"
)

func TestRazorpayBeginCheckout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_key", user)
		require.Equal(t, "rzp_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 10000, body["amount"])
		require.Equal(t, "INR", body["currency"])
		require.Equal(t, "TOK123", body["receipt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","status":"created"}`))
	}))
	defer srv.Close()

	g := gateway.NewRazorpay(gateway.Credentials{KeyID: "rzp_key", KeySecret: "rzp_secret"}, srv.URL, testHTTPClient())

	target, err := g.BeginCheckout(context.Background(), checkoutReq())
	require.NoError(t, err)
	require.Equal(t, "razorpay", target.Gateway)
	require.Equal(t, "order_abc", target.OrderHandle)
}

func TestRazorpayVerifyNotification(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/pay_ok":
			_, _ = w.Write([]byte(`{"id":"pay_ok","status":"captured","amount":10000,"notes":{"payment_token":"TOK123"}}`))
		case "/v1/payments/pay_other":
			_, _ = w.Write([]byte(`{"id":"pay_other","status":"captured","amount":10000,"notes":{"payment_token":"SOMEONE_ELSE"}}`))
		default:
			http.Error(w, `{"error":{"code":"BAD_REQUEST_ERROR"}}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := gateway.NewRazorpay(gateway.Credentials{KeyID: "k", KeySecret: "s"}, srv.URL, testHTTPClient())

	payload := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_ok","order_id":"order_abc","status":"captured","notes":{"payment_token":"TOK123"}}}}}`
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/razorpay", strings.NewReader(payload))

	token, n, err := g.DecodeWebhook(r, []byte(payload))
	require.NoError(t, err)
	require.Equal(t, "TOK123", token)

	claim, ok, err := g.VerifyNotification(context.Background(), token, n)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, gateway.OutcomeSuccess, claim.Outcome)
	require.True(t, claim.HasAmount)
	require.EqualValues(t, 10000, claim.Amount)

	// Payment that exists but belongs to a different token is rejected.
	n.Fields["payment_id"] = "pay_other"
	_, ok, err = g.VerifyNotification(context.Background(), token, n)
	require.NoError(t, err)
	require.False(t, ok)

	// Unknown payment id fails verification without error.
	n.Fields["payment_id"] = "pay_missing"
	_, ok, err = g.VerifyNotification(context.Background(), token, n)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRazorpayDecodeWebhookMalformed(t *testing.T) {
	t.Parallel()

	g := gateway.NewRazorpay(gateway.Credentials{}, "", testHTTPClient())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments/razorpay", strings.NewReader("{"))
	_, _, err := g.DecodeWebhook(r, []byte("{"))
	require.ErrorIs(t, err, gateway.ErrMalformedNotification)
}
