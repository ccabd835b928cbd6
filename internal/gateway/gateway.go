// Package gateway defines the contract a payment processor integration has
// to satisfy and the adapters for the supported processors. A Gateway is
// selected by its name key through a Registry; handlers receive their
// dependencies explicitly and never reach for ambient state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Mode selects the credential set used against the processor.
type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

// Credentials holds the mode-selected key material for one processor.
// Never logged.
type Credentials struct {
	Mode      Mode
	KeyID     string
	KeySecret string
	Salt      string
}

// CallbackURLs are the three destinations handed to the processor, each
// carrying the payment token and gateway name so later phases can always
// re-resolve the order.
type CallbackURLs struct {
	Return  string
	Cancel  string
	Webhook string
}

// Buyer carries the contact fields submitted with the checkout request.
type Buyer struct {
	Name  string
	Email string
	Phone string
}

// CheckoutRequest captures everything needed to open a payment with a
// processor.
type CheckoutRequest struct {
	PaymentToken string
	Amount       int64 // minor units
	Currency     string
	Buyer        Buyer
	Callbacks    CallbackURLs
}

// RedirectTarget is where the buyer goes next: either a hosted payment page
// URL or an order handle consumed by a client-side SDK.
type RedirectTarget struct {
	Gateway     string
	URL         string
	OrderHandle string
}

// Outcome is the normalised payment outcome asserted by a notification.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
)

// Notification is an inbound webhook envelope: the field set exactly as
// received, with the provided signature extracted and removed from the
// fields before any recomputation.
type Notification struct {
	Fields    map[string]string
	Signature string
	Raw       []byte
}

// Claim is what a notification asserts about a payment. Claims returned by
// ParseNotification are untrusted until VerifyNotification succeeds.
type Claim struct {
	Outcome       Outcome
	Amount        int64
	HasAmount     bool
	TransactionID string
}

var (
	// ErrUnknownGateway is returned when no adapter is registered under the
	// requested name.
	ErrUnknownGateway = errors.New("gateway: unknown gateway")
	// ErrUnsupportedCurrency is returned before any network call when the
	// order currency is outside the processor's supported set.
	ErrUnsupportedCurrency = errors.New("gateway: unsupported currency")
	// ErrGatewayUnavailable covers failed or malformed outbound exchanges.
	// The order stays pre-terminal and the caller may retry; no money moved.
	ErrGatewayUnavailable = errors.New("gateway: unavailable")
	// ErrMalformedNotification is returned when a webhook payload cannot be
	// decoded into an envelope.
	ErrMalformedNotification = errors.New("gateway: malformed notification")
)

// Gateway is implemented once per payment processor.
type Gateway interface {
	Name() string
	Supports(currency string) bool
	// HasWebhook reports whether the processor delivers server-to-server
	// notifications. When false, the browser return is the only signal and
	// must be authenticated exactly like a webhook before being trusted.
	HasWebhook() bool
	// BeginCheckout issues the outbound create-payment request and returns
	// the redirect target for the buyer hand-off.
	BeginCheckout(ctx context.Context, req CheckoutRequest) (RedirectTarget, error)
	// DecodeWebhook extracts the payment token and notification envelope
	// from an inbound request. No authentication is performed.
	DecodeWebhook(r *http.Request, body []byte) (string, Notification, error)
	// ParseNotification reads the unauthenticated claim out of the envelope.
	ParseNotification(n Notification) (Claim, error)
	// VerifyNotification authenticates the envelope and returns the
	// authoritative claim. ok=false means this notification is not
	// trustworthy; it is not proof that the payment failed.
	VerifyNotification(ctx context.Context, token string, n Notification) (Claim, bool, error)
}

// Registry selects gateways by their name key.
type Registry map[string]Gateway

// NewRegistry returns an empty registry.
func NewRegistry() Registry {
	return Registry{}
}

// Register adds g under its name.
func (r Registry) Register(g Gateway) {
	r[strings.ToLower(g.Name())] = g
}

// Resolve returns the gateway registered under name.
func (r Registry) Resolve(name string) (Gateway, error) {
	g, ok := r[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, name)
	}
	return g, nil
}

// Names lists the registered gateway keys.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for name := range r {
		out = append(out, name)
	}
	return out
}
