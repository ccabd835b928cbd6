package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-tix/internal/resilience"
)

// Razorpay implements the order-object protocol: checkout creates an order
// through the Orders API and returns its handle for the client-side SDK;
// webhooks carry a payment id whose state is fetched back from the API and
// trusted instead of the posted payload, so no local signature math is
// needed.
type Razorpay struct {
	Creds   Credentials
	BaseURL string
	HTTP    *resilience.HTTPClient
}

func NewRazorpay(creds Credentials, baseURL string, client *resilience.HTTPClient) Razorpay {
	return Razorpay{Creds: creds, BaseURL: baseURL, HTTP: client}
}

func (g Razorpay) Name() string { return "razorpay" }

func (g Razorpay) Supports(currency string) bool {
	return strings.EqualFold(strings.TrimSpace(currency), "INR")
}

func (g Razorpay) HasWebhook() bool { return true }

func (g Razorpay) host() string {
	if h := strings.TrimSpace(g.BaseURL); h != "" {
		return strings.TrimRight(h, "/")
	}
	return "https://api.razorpay.com"
}

// BeginCheckout creates the gateway order object. The buyer stays on the
// merchant page; the returned handle drives the processor's client SDK.
func (g Razorpay) BeginCheckout(ctx context.Context, req CheckoutRequest) (RedirectTarget, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   req.Amount,
		"currency": strings.ToUpper(req.Currency),
		"receipt":  req.PaymentToken,
		"notes":    map[string]string{"payment_token": req.PaymentToken},
	})
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("razorpay: encode order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.host()+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("razorpay: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.Creds.KeyID, g.Creds.KeySecret)

	resp, err := g.HTTP.Do(ctx, httpReq)
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("%w: razorpay create order: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RedirectTarget{}, fmt.Errorf("%w: razorpay responded %s", ErrGatewayUnavailable, resp.Status)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil || created.ID == "" {
		return RedirectTarget{}, fmt.Errorf("%w: razorpay malformed order response", ErrGatewayUnavailable)
	}
	return RedirectTarget{Gateway: g.Name(), OrderHandle: created.ID}, nil
}

// DecodeWebhook flattens the event payload into envelope fields. The posted
// payload itself is unsigned and untrusted; only the payment id is used, to
// drive the authoritative fetch.
func (g Razorpay) DecodeWebhook(r *http.Request, body []byte) (string, Notification, error) {
	var payload struct {
		Event   string `json:"event"`
		Payload struct {
			Payment struct {
				Entity struct {
					ID      string            `json:"id"`
					OrderID string            `json:"order_id"`
					Amount  int64             `json:"amount"`
					Status  string            `json:"status"`
					Notes   map[string]string `json:"notes"`
				} `json:"entity"`
			} `json:"payment"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", Notification{}, ErrMalformedNotification
	}
	entity := payload.Payload.Payment.Entity
	if entity.ID == "" {
		return "", Notification{}, ErrMalformedNotification
	}
	fields := map[string]string{
		"event":      payload.Event,
		"payment_id": entity.ID,
		"order_id":   entity.OrderID,
		"status":     entity.Status,
	}
	token := strings.TrimSpace(r.URL.Query().Get("payment_token"))
	if token == "" {
		token = strings.TrimSpace(entity.Notes["payment_token"])
	}
	return token, Notification{Fields: fields, Raw: body}, nil
}

// ParseNotification returns the posted claim. The payload is unsigned, so
// the amount is never asserted here; the authoritative amount comes from the
// fetch in VerifyNotification.
func (g Razorpay) ParseNotification(n Notification) (Claim, error) {
	if n.Fields["payment_id"] == "" {
		return Claim{}, ErrMalformedNotification
	}
	return Claim{
		Outcome:       razorpayOutcome(n.Fields["status"]),
		TransactionID: n.Fields["payment_id"],
	}, nil
}

// VerifyNotification fetches the payment object by id and trusts only the
// fetched state: status, amount and the payment token recorded in the order
// notes at creation time.
func (g Razorpay) VerifyNotification(ctx context.Context, token string, n Notification) (Claim, bool, error) {
	paymentID := strings.TrimSpace(n.Fields["payment_id"])
	if paymentID == "" {
		return Claim{}, false, nil
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		g.host()+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return Claim{}, false, fmt.Errorf("razorpay: build fetch: %w", err)
	}
	httpReq.SetBasicAuth(g.Creds.KeyID, g.Creds.KeySecret)

	resp, err := g.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Claim{}, false, fmt.Errorf("%w: razorpay fetch payment: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		// A payment id we never issued; the notification is a forgery or a
		// stale probe.
		return Claim{}, false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Claim{}, false, fmt.Errorf("%w: razorpay responded %s", ErrGatewayUnavailable, resp.Status)
	}

	var fetched struct {
		ID     string            `json:"id"`
		Amount int64             `json:"amount"`
		Status string            `json:"status"`
		Notes  map[string]string `json:"notes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		return Claim{}, false, fmt.Errorf("%w: razorpay malformed payment response", ErrGatewayUnavailable)
	}
	if token != "" && fetched.Notes["payment_token"] != token {
		return Claim{}, false, nil
	}
	return Claim{
		Outcome:       razorpayOutcome(fetched.Status),
		Amount:        fetched.Amount,
		HasAmount:     true,
		TransactionID: fetched.ID,
	}, true, nil
}

func razorpayOutcome(status string) Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured":
		return OutcomeSuccess
	case "failed":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
