package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-tix/internal/phone"
	"github.com/noah-isme/backend-tix/internal/resilience"
	"github.com/noah-isme/backend-tix/internal/signature"
)

// instamojoSigField carries the HMAC in webhook posts and is excluded from
// the signed field set.
const instamojoSigField = "mac"

// Instamojo implements the HMAC-redirect protocol: checkout creates a
// payment request whose hosted URL the buyer is redirected to, and webhooks
// arrive as signed form posts authenticated with the account salt.
type Instamojo struct {
	Creds   Credentials
	BaseURL string
	HTTP    *resilience.HTTPClient
	Phones  phone.Normalizer
}

// NewInstamojo wires the adapter with the phone shape this processor
// requires: Indian mobile numbers lead with 6-9.
func NewInstamojo(creds Credentials, baseURL string, client *resilience.HTTPClient) Instamojo {
	return Instamojo{
		Creds:   creds,
		BaseURL: baseURL,
		HTTP:    client,
		Phones: phone.Normalizer{
			CountryCode:   "91",
			AcceptLeading: "6789",
			Placeholder:   "9999999999",
		},
	}
}

func (g Instamojo) Name() string { return "instamojo" }

func (g Instamojo) Supports(currency string) bool {
	return strings.EqualFold(strings.TrimSpace(currency), "INR")
}

func (g Instamojo) HasWebhook() bool { return true }

func (g Instamojo) host() string {
	if h := strings.TrimSpace(g.BaseURL); h != "" {
		return strings.TrimRight(h, "/")
	}
	if g.Creds.Mode == ModeSandbox {
		return "https://test.instamojo.com"
	}
	return "https://www.instamojo.com"
}

// BeginCheckout creates a payment request and returns its hosted payment
// page URL.
func (g Instamojo) BeginCheckout(ctx context.Context, req CheckoutRequest) (RedirectTarget, error) {
	form := url.Values{}
	form.Set("purpose", "Order "+req.PaymentToken)
	form.Set("amount", FormatMinor(req.Amount))
	form.Set("buyer_name", req.Buyer.Name)
	form.Set("email", req.Buyer.Email)
	form.Set("phone", g.Phones.Normalize(req.Buyer.Phone))
	form.Set("redirect_url", req.Callbacks.Return)
	form.Set("webhook", req.Callbacks.Webhook)
	form.Set("allow_repeated_payments", "false")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.host()+"/api/1.1/payment-requests/", strings.NewReader(form.Encode()))
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("instamojo: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("X-Api-Key", g.Creds.KeyID)
	httpReq.Header.Set("X-Auth-Token", g.Creds.KeySecret)

	resp, err := g.HTTP.Do(ctx, httpReq)
	if err != nil {
		return RedirectTarget{}, fmt.Errorf("%w: instamojo create payment request: %v", ErrGatewayUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RedirectTarget{}, fmt.Errorf("%w: instamojo responded %s", ErrGatewayUnavailable, resp.Status)
	}

	var payload struct {
		Success        bool `json:"success"`
		PaymentRequest struct {
			ID      string `json:"id"`
			Longurl string `json:"longurl"`
		} `json:"payment_request"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RedirectTarget{}, fmt.Errorf("%w: instamojo malformed response: %v", ErrGatewayUnavailable, err)
	}
	if !payload.Success || payload.PaymentRequest.Longurl == "" {
		return RedirectTarget{}, fmt.Errorf("%w: instamojo rejected payment request", ErrGatewayUnavailable)
	}
	return RedirectTarget{Gateway: g.Name(), URL: payload.PaymentRequest.Longurl}, nil
}

// DecodeWebhook parses the signed form post. The signature field is removed
// from the envelope fields; it is not part of what was signed.
func (g Instamojo) DecodeWebhook(r *http.Request, body []byte) (string, Notification, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil || len(values) == 0 {
		return "", Notification{}, ErrMalformedNotification
	}
	fields := make(map[string]string, len(values))
	for key := range values {
		fields[key] = values.Get(key)
	}
	sig := fields[instamojoSigField]
	delete(fields, instamojoSigField)

	token := strings.TrimSpace(r.URL.Query().Get("payment_token"))
	if token == "" {
		token = strings.TrimSpace(fields["payment_token"])
	}
	return token, Notification{Fields: fields, Signature: sig, Raw: body}, nil
}

// ParseNotification reads the asserted outcome and amount without trusting
// them.
func (g Instamojo) ParseNotification(n Notification) (Claim, error) {
	if len(n.Fields) == 0 {
		return Claim{}, ErrMalformedNotification
	}
	claim := Claim{TransactionID: n.Fields["payment_id"]}
	switch strings.ToLower(strings.TrimSpace(n.Fields["status"])) {
	case "credit":
		claim.Outcome = OutcomeSuccess
	case "failed":
		claim.Outcome = OutcomeFailed
	default:
		claim.Outcome = OutcomePending
	}
	if raw := strings.TrimSpace(n.Fields["amount"]); raw != "" {
		amount, err := ParseMinor(raw)
		if err != nil {
			return Claim{}, fmt.Errorf("%w: bad amount", ErrMalformedNotification)
		}
		claim.Amount = amount
		claim.HasAmount = true
	}
	return claim, nil
}

// VerifyNotification recomputes the HMAC over the envelope fields with the
// account salt and compares it in constant time.
func (g Instamojo) VerifyNotification(_ context.Context, _ string, n Notification) (Claim, bool, error) {
	if !signature.Verify(n.Fields, n.Signature, g.Creds.Salt) {
		return Claim{}, false, nil
	}
	claim, err := g.ParseNotification(n)
	if err != nil {
		return Claim{}, false, nil
	}
	return claim, true, nil
}

// FormatMinor renders minor units as a decimal string, e.g. 10000 -> "100.00".
func FormatMinor(m int64) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s%d.%02d", sign, m/100, m%100)
}

// ParseMinor converts a decimal amount string into minor units without
// floating point, e.g. "100.00" -> 10000, "99.5" -> 9950.
func ParseMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	default:
		frac = frac[:2]
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	total := units*100 + cents
	if neg {
		total = -total
	}
	return total, nil
}
