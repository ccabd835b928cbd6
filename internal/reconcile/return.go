package reconcile

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/order"
)

// Pages are the buyer-facing result URLs the return handler redirects to.
type Pages struct {
	Success  string
	Pending  string
	Cancel   string
	Failed   string
	NotFound string
}

// Return brings the buyer back from the gateway. The redirect is advisory:
// order state is decided by reconciliation, never by which page the browser
// happened to land on. For gateways without webhooks the signed return
// parameters are the notification and are reconciled here.
type Return struct {
	Svc      *Service
	Store    order.Store
	Gateways gateway.Registry
	Pages    Pages
	Log      zerolog.Logger
}

func (h Return) Routes(r chi.Router) {
	r.Get("/payments/return", h.Handle)
}

func (h Return) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("reconcile.Return").Start(r.Context(), "PaymentReturn.Handle")
	defer span.End()
	r = r.WithContext(ctx)

	q := r.URL.Query()
	token := q.Get("payment_token")
	action := q.Get("action")
	provider := strings.ToLower(q.Get("gateway"))
	span.SetAttributes(
		attribute.String("payment.return.action", action),
		attribute.String("payment.return.gateway", provider),
	)

	if token == "" {
		h.redirect(w, r, h.Pages.NotFound)
		return
	}
	span.SetAttributes(attribute.String("order.payment_token", token))

	// A cancel click is a browser gesture, not a settlement. The order stays
	// reconcilable in case the payment actually went through.
	if action == "payment_cancel" {
		h.redirect(w, r, h.Pages.Cancel)
		return
	}

	if g, err := h.Gateways.Resolve(provider); err == nil && !g.HasWebhook() {
		h.reconcileFromReturn(w, r, g, token)
		return
	}

	h.redirectByStatus(w, r, token)
}

// reconcileFromReturn treats the signed query string as the gateway
// notification. Used only for gateways that never call the webhook.
func (h Return) reconcileFromReturn(w http.ResponseWriter, r *http.Request, g gateway.Gateway, token string) {
	_, notification, err := g.DecodeWebhook(r, []byte(r.URL.RawQuery))
	if err != nil {
		h.Log.Warn().Str("gateway", g.Name()).Err(err).Msg("undecodable return parameters")
		h.redirectByStatus(w, r, token)
		return
	}
	result, err := h.Svc.Reconcile(r.Context(), g, token, notification)
	if err != nil && !errors.Is(err, ErrAmountMismatch) {
		if errors.Is(err, order.ErrNotFound) {
			h.redirect(w, r, h.Pages.NotFound)
			return
		}
		h.Log.Error().Str("payment_token", token).Err(err).Msg("return reconciliation failed")
		h.redirectByStatus(w, r, token)
		return
	}
	switch result {
	case ResultCompleted:
		h.redirect(w, r, h.Pages.Success)
	case ResultFailed:
		h.redirect(w, r, h.Pages.Failed)
	case ResultCanceled:
		h.redirect(w, r, h.Pages.Cancel)
	case ResultAlreadyReconciled:
		h.redirectByStatus(w, r, token)
	default:
		h.redirect(w, r, h.Pages.Pending)
	}
}

// redirectByStatus picks the page from stored order state. When the webhook
// has not landed yet the buyer sees the pending page, which polls.
func (h Return) redirectByStatus(w http.ResponseWriter, r *http.Request, token string) {
	ord, err := h.Store.GetByToken(r.Context(), token)
	if err != nil {
		h.redirect(w, r, h.Pages.NotFound)
		return
	}
	switch ord.Status {
	case order.StatusCompleted:
		h.redirect(w, r, h.Pages.Success)
	case order.StatusFailed:
		h.redirect(w, r, h.Pages.Failed)
	case order.StatusCancelled:
		h.redirect(w, r, h.Pages.Cancel)
	default:
		h.redirect(w, r, h.Pages.Pending)
	}
}

func (h Return) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if target == "" {
		http.Error(w, "payment result page not configured", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
