package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const maxAdminBodySize = 16 * 1024

// AdminHandlers serves the staff console: order fulfilment, return review,
// coupons and offers. Role checks are applied by the router group.
type AdminHandlers struct {
	orders  services.OrderService
	returns services.ReturnService
	coupons services.CouponService
	catalog services.CatalogService
	clock   func() time.Time
}

// AdminDeps bundles the services used by the admin console.
type AdminDeps struct {
	Orders  services.OrderService
	Returns services.ReturnService
	Coupons services.CouponService
	Catalog services.CatalogService
	Clock   func() time.Time
}

// NewAdminHandlers constructs admin handlers.
func NewAdminHandlers(deps AdminDeps) *AdminHandlers {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &AdminHandlers{
		orders:  deps.Orders,
		returns: deps.Returns,
		coupons: deps.Coupons,
		catalog: deps.Catalog,
		clock:   clock,
	}
}

// Routes registers admin endpoints relative to the /admin mount.
func (h *AdminHandlers) Routes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders:stats", h.orderStats)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)

	r.Get("/returns", h.listReturns)
	r.Post("/returns/{returnID}:approve", h.approveReturn)
	r.Post("/returns/{returnID}:reject", h.rejectReturn)

	r.Get("/coupons", h.listCoupons)
	r.Post("/coupons", h.createCoupon)
	r.Put("/coupons/{couponID}", h.updateCoupon)
	r.Post("/coupons/{couponID}:toggle", h.toggleCoupon)

	r.Put("/offers/products/{targetID}", h.upsertOffer(domain.OfferKindProduct))
	r.Delete("/offers/products/{targetID}", h.deleteOffer(domain.OfferKindProduct))
	r.Put("/offers/brands/{targetID}", h.upsertOffer(domain.OfferKindBrand))
	r.Delete("/offers/brands/{targetID}", h.deleteOffer(domain.OfferKindBrand))
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=shipped out_for_delivery delivered"`
}

type reviewRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type orderStatsPayload struct {
	TotalOrders     int            `json:"total_orders"`
	Revenue         moneyPayload   `json:"revenue"`
	DeliveredCount  int            `json:"delivered_count"`
	PendingPayment  moneyPayload   `json:"pending_payment"`
	PendingCount    int            `json:"pending_payment_count"`
	ByPaymentStatus map[string]int `json:"by_payment_status"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	filter, herr := parseOrderListFilter(r, h.clock())
	if herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))
	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orders":          buildOrderList(page.Items),
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	stats, err := h.orders.Stats(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	payload := orderStatsPayload{
		TotalOrders:     stats.TotalOrders,
		Revenue:         newMoney(stats.Revenue, ""),
		DeliveredCount:  stats.DeliveredCount,
		PendingPayment:  newMoney(stats.PendingPaymentAmount, ""),
		PendingCount:    stats.PendingPaymentCount,
		ByPaymentStatus: make(map[string]int, len(stats.ByPaymentStatus)),
	}
	for status, count := range stats.ByPaymentStatus {
		payload.ByPaymentStatus[string(status)] = count
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	detail, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: chi.URLParam(r, "orderID"), Admin: true})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderDetailPayload(detail))
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	actorID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if herr := decodeRequest(r, maxAdminBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: domain.OrderStatus(req.Status),
		ActorID:      actorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return_service_unavailable", "return service unavailable")
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.ReturnListFilter{Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken}}
	for _, raw := range strings.Split(r.URL.Query().Get("status"), ",") {
		status := domain.ReturnStatus(strings.ToLower(strings.TrimSpace(raw)))
		switch status {
		case "":
			continue
		case domain.ReturnStatusPending, domain.ReturnStatusApproved, domain.ReturnStatusRejected:
			filter.Status = append(filter.Status, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown return status "+string(status), http.StatusBadRequest))
			return
		}
	}
	page, err := h.returns.ListReturns(ctx, filter)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"returns":         buildReturnList(page.Items, ""),
		"next_page_token": page.NextPageToken,
	})
}

func (h *AdminHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.reviewReturn(w, r, true)
}

func (h *AdminHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.reviewReturn(w, r, false)
}

func (h *AdminHandlers) reviewReturn(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return_service_unavailable", "return service unavailable")
		return
	}
	reviewerID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if herr := decodeRequest(r, maxAdminBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	cmd := services.ReviewReturnCommand{ReturnID: chi.URLParam(r, "returnID"), ReviewerID: reviewerID, Note: req.Note}
	var (
		ret services.OrderReturn
		err error
	)
	if approve {
		ret, err = h.returns.ApproveReturn(ctx, cmd)
	} else {
		ret, err = h.returns.RejectReturn(ctx, cmd)
	}
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	payload := map[string]any{"return": buildReturnPayload(ret, "")}
	if approve && ret.RefundAmount > 0 {
		payload["message"] = refundMessage(ret.RefundAmount, "")
	}
	writeJSONResponse(w, http.StatusOK, payload)
}
