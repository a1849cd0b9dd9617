package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/services"
)

// InternalHandlers exposes maintenance jobs triggered by the scheduler.
type InternalHandlers struct {
	orders services.OrderService
	clock  func() time.Time
}

// NewInternalHandlers constructs internal job handlers.
func NewInternalHandlers(orders services.OrderService, clock func() time.Time) *InternalHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalHandlers{orders: orders, clock: clock}
}

// Routes registers internal endpoints relative to the /internal mount.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/orders:expire-unpaid", h.expireUnpaid)
}

type expireUnpaidPayload struct {
	Expired []string          `json:"expired"`
	Failed  map[string]string `json:"failed,omitempty"`
	RanAt   string            `json:"ran_at"`
}

func (h *InternalHandlers) expireUnpaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	now := h.clock()
	result, err := h.orders.ExpireUnpaid(ctx, now)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	payload := expireUnpaidPayload{Expired: result.Expired, Failed: result.Failed, RanAt: formatTime(now)}
	if payload.Expired == nil {
		payload.Expired = []string{}
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
