package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment gateway notifications. Each provider signs
// with its own secret; unknown providers are rejected by the guard.
type WebhookHandlers struct {
	checkout  services.CheckoutService
	validator *auth.HMACValidator
	providers map[string]struct{}
}

// NewWebhookHandlers constructs webhook handlers for the named providers.
func NewWebhookHandlers(checkout services.CheckoutService, validator *auth.HMACValidator, providers []string) *WebhookHandlers {
	known := make(map[string]struct{}, len(providers))
	for _, provider := range providers {
		if key := strings.ToLower(strings.TrimSpace(provider)); key != "" {
			known[key] = struct{}{}
		}
	}
	return &WebhookHandlers{checkout: checkout, validator: validator, providers: known}
}

// Routes registers webhook endpoints relative to the /webhooks mount.
func (h *WebhookHandlers) Routes(r chi.Router) {
	route := r
	if h.validator != nil {
		route = r.With(h.validator.RequireHMACResolver(h.resolveSecret))
	}
	route.Post("/payments/{provider}", h.paymentEvent)
}

func (h *WebhookHandlers) resolveSecret(r *http.Request) (string, bool) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	_, ok := h.providers[provider]
	return provider, ok
}

func (h *WebhookHandlers) paymentEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	if h.validator == nil {
		serviceUnavailable(ctx, w, "webhook_unavailable", "webhook verification is not configured")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	if err := h.checkout.HandleWebhook(ctx, provider, body); err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
