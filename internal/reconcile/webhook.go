package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-tix/internal/common"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/obs"
	"github.com/noah-isme/backend-tix/internal/order"
)

type replayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Webhook receives gateway notifications. Processors deliver at least once
// and retry on non-2xx, so every understood notification is acknowledged
// with 200 regardless of what it did to the order; only infrastructure
// failures return 5xx.
type Webhook struct {
	Svc       *Service
	Gateways  gateway.Registry
	Replay    replayStore
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

func (h Webhook) Routes(r chi.Router) {
	r.Post("/webhooks/payments/{provider}", h.Handle)
}

func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Gateways == nil {
		common.JSONError(w, http.StatusInternalServerError, "internal", "webhook handler not configured", nil)
		return
	}
	ctx, span := otel.Tracer("reconcile.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()
	r = r.WithContext(ctx)

	provider := strings.ToLower(chi.URLParam(r, "provider"))
	span.SetAttributes(attribute.String("payment.webhook.gateway", provider))
	outcome := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(provider, outcome).Inc()
		}
	}()

	g, err := h.Gateways.Resolve(provider)
	if err != nil {
		outcome = "unknown_gateway"
		common.JSONError(w, http.StatusNotFound, "unknown_gateway", "payment provider not available", nil)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		span.RecordError(err)
		common.JSONError(w, http.StatusBadRequest, "bad_request", "unable to read payload", nil)
		return
	}

	log := h.Log.With().Str("gateway", provider).Logger()

	if h.Replay != nil {
		key := fmt.Sprintf("paywh:%s:%s", provider, common.Sha256Hex(string(body)))
		fresh, err := h.Replay.SetNX(r.Context(), key, "1", h.ReplayTTL).Result()
		if err != nil {
			span.RecordError(err)
			common.JSONError(w, http.StatusInternalServerError, "internal", "replay protection failed", nil)
			return
		}
		if !fresh {
			span.AddEvent("payment webhook replay suppressed")
			outcome = "replay"
			h.ack(w)
			return
		}
	}

	token, notification, err := g.DecodeWebhook(r, body)
	if err != nil || token == "" {
		// Nothing actionable; retrying the same bytes cannot help.
		log.Warn().Err(err).Msg("undecodable payment webhook")
		outcome = "malformed"
		h.ack(w)
		return
	}
	span.SetAttributes(attribute.String("order.payment_token", token))

	result, err := h.Svc.Reconcile(r.Context(), g, token, notification)
	switch {
	case err == nil:
	case errors.Is(err, order.ErrNotFound):
		log.Warn().Str("payment_token", token).Msg("webhook for unknown payment token")
		outcome = "unknown_token"
		h.ack(w)
		return
	case errors.Is(err, ErrAmountMismatch):
		log.Warn().Str("payment_token", token).Err(err).Msg("webhook amount rejected")
		outcome = "amount_mismatch"
		h.ack(w)
		return
	default:
		span.RecordError(err)
		log.Error().Str("payment_token", token).Err(err).Msg("webhook reconciliation failed")
		common.JSONError(w, http.StatusInternalServerError, "internal", "failed to process notification", nil)
		return
	}

	outcome = string(result)
	log.Info().Str("payment_token", token).Str("result", string(result)).Msg("payment webhook processed")
	h.ack(w)
}

func (h Webhook) ack(w http.ResponseWriter) {
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
