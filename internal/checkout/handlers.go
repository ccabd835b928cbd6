package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tix/internal/common"
	"github.com/noah-isme/backend-tix/internal/gateway"
	"github.com/noah-isme/backend-tix/internal/order"
	"github.com/noah-isme/backend-tix/internal/pricing"
)

type beginRequest struct {
	PaymentToken string `json:"payment_token" validate:"required,min=6,max=128"`
}

type beginResponse struct {
	Gateway     string `json:"gateway"`
	RedirectURL string `json:"redirect_url,omitempty"`
	OrderHandle string `json:"order_handle,omitempty"`
}

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	Log      zerolog.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout/{provider}", h.begin)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "invalid_body", "payment_token is required", nil)
			return
		}
	}

	target, err := h.Svc.Begin(r.Context(), provider, req.PaymentToken)
	if err != nil {
		h.renderError(w, provider, err)
		return
	}
	common.JSON(w, http.StatusOK, beginResponse{
		Gateway:     target.Gateway,
		RedirectURL: target.URL,
		OrderHandle: target.OrderHandle,
	})
}

func (h *Handler) renderError(w http.ResponseWriter, provider string, err error) {
	log := h.Log.With().Str("gateway", provider).Logger()
	switch {
	case errors.Is(err, gateway.ErrUnknownGateway):
		common.JSONError(w, http.StatusNotFound, "unknown_gateway", "payment provider not available", nil)
	case errors.Is(err, order.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "order_not_found", "order not found", nil)
	case errors.Is(err, ErrOrderSettled):
		common.JSONError(w, http.StatusConflict, "order_settled", "this order has already been settled", nil)
	case errors.Is(err, gateway.ErrUnsupportedCurrency):
		common.JSONError(w, http.StatusUnprocessableEntity, "unsupported_currency", "provider does not accept the order currency", nil)
	case errors.Is(err, pricing.ErrInvalidCouponKind):
		common.JSONError(w, http.StatusUnprocessableEntity, "invalid_coupon", "order coupon could not be applied", nil)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		log.Warn().Err(err).Msg("gateway unavailable during checkout")
		common.JSONError(w, http.StatusBadGateway, "gateway_unavailable", "payment could not be started, please try again", nil)
	default:
		log.Error().Err(err).Msg("checkout failed")
		common.JSONError(w, http.StatusInternalServerError, "internal", "something went wrong", nil)
	}
}
