package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const maxOrderBodySize = 4 * 1024

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:        {},
	domain.OrderStatusConfirmed:      {},
	domain.OrderStatusShipped:        {},
	domain.OrderStatusOutForDelivery: {},
	domain.OrderStatusDelivered:      {},
	domain.OrderStatusCancelled:      {},
	domain.OrderStatusReturned:       {},
}

// OrderHandlers exposes the signed-in user's orders, cancellations and returns.
type OrderHandlers struct {
	orders  services.OrderService
	returns services.ReturnService
	clock   func() time.Time
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(orders services.OrderService, returns services.ReturnService, clock func() time.Time) *OrderHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &OrderHandlers{orders: orders, returns: returns, clock: clock}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Post("/orders/{orderID}/items/{itemID}:cancel", h.cancelItem)
	r.Post("/orders/{orderID}:return", h.requestOrderReturn)
	r.Post("/orders/{orderID}/items/{itemID}:return", h.requestItemReturn)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type returnRequest struct {
	Reason      string `json:"reason" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
}

type statusStepPayload struct {
	Status  string `json:"status"`
	Reached bool   `json:"reached"`
	Current bool   `json:"current"`
}

type orderDetailPayload struct {
	Order           orderPayload        `json:"order"`
	CanCancel       bool                `json:"can_cancel"`
	CanReturn       bool                `json:"can_return"`
	ReturnDaysLeft  int                 `json:"return_days_left"`
	ReturnableItems []string            `json:"returnable_items"`
	Steps           []statusStepPayload `json:"steps"`
	Returns         []returnPayload     `json:"returns"`
}

type orderMutationPayload struct {
	Order   orderPayload `json:"order"`
	Message string       `json:"message,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	filter, herr := parseOrderListFilter(r, h.clock())
	if herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	filter.UserID = userID
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

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	detail, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: chi.URLParam(r, "orderID"), UserID: userID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderDetailPayload(detail))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if herr := decodeRequest(r, maxOrderBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	before, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: chi.URLParam(r, "orderID"), UserID: userID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{UserID: userID, OrderID: before.Order.ID, Reason: req.Reason})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderMutationPayload{
		Order:   buildOrderPayload(order),
		Message: refundMessage(order.RefundedAmount-before.Order.RefundedAmount, order.Currency),
	})
}

func (h *OrderHandlers) cancelItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if herr := decodeRequest(r, maxOrderBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	before, err := h.orders.GetOrder(ctx, services.GetOrderCommand{OrderID: chi.URLParam(r, "orderID"), UserID: userID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	order, err := h.orders.CancelItem(ctx, services.CancelItemCommand{
		UserID:  userID,
		OrderID: before.Order.ID,
		ItemID:  chi.URLParam(r, "itemID"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderMutationPayload{
		Order:   buildOrderPayload(order),
		Message: refundMessage(order.RefundedAmount-before.Order.RefundedAmount, order.Currency),
	})
}

func (h *OrderHandlers) requestOrderReturn(w http.ResponseWriter, r *http.Request) {
	h.requestReturn(w, r, false)
}

func (h *OrderHandlers) requestItemReturn(w http.ResponseWriter, r *http.Request) {
	h.requestReturn(w, r, true)
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request, item bool) {
	ctx := r.Context()
	if h.returns == nil {
		serviceUnavailable(ctx, w, "return_service_unavailable", "return service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if herr := decodeRequest(r, maxOrderBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	cmd := services.RequestReturnCommand{
		UserID:      userID,
		OrderID:     chi.URLParam(r, "orderID"),
		Reason:      req.Reason,
		Description: req.Description,
	}
	var (
		ret services.OrderReturn
		err error
	)
	if item {
		cmd.ItemID = chi.URLParam(r, "itemID")
		ret, err = h.returns.RequestItemReturn(ctx, cmd)
	} else {
		ret, err = h.returns.RequestOrderReturn(ctx, cmd)
	}
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"return": buildReturnPayload(ret, "")})
}

// parseOrderListFilter reads status, q, range and pagination parameters.
func parseOrderListFilter(r *http.Request, now time.Time) (services.OrderListFilter, *httpx.Error) {
	query := r.URL.Query()
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		e := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		return services.OrderListFilter{}, &e
	}
	filter := services.OrderListFilter{
		Search:     strings.TrimSpace(query.Get("q")),
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if _, ok := validOrderStatuses[status]; !ok {
				e := httpx.NewError("invalid_request", "unknown order status "+string(status), http.StatusBadRequest)
				return services.OrderListFilter{}, &e
			}
			filter.Status = append(filter.Status, status)
		}
	}
	created, err := services.OrderDateRange(query.Get("range"), now)
	if err != nil {
		e := httpx.NewError("invalid_request", "range must be last-week, last-month or last-3-months", http.StatusBadRequest)
		return services.OrderListFilter{}, &e
	}
	filter.Created = created
	for key, target := range map[string]*time.Time{"created_after": &filter.Created.From, "created_before": &filter.Created.To} {
		raw := strings.TrimSpace(query.Get(key))
		if raw == "" {
			continue
		}
		ts, err := parseRFC3339(raw)
		if err != nil {
			e := httpx.NewError("invalid_request", key+" must be an RFC3339 timestamp", http.StatusBadRequest)
			return services.OrderListFilter{}, &e
		}
		*target = ts
	}
	return filter, nil
}

func buildOrderDetailPayload(detail services.OrderDetail) orderDetailPayload {
	payload := orderDetailPayload{
		Order:           buildOrderPayload(detail.Order),
		CanCancel:       detail.CanCancel,
		CanReturn:       detail.CanReturn,
		ReturnDaysLeft:  detail.ReturnDaysLeft,
		ReturnableItems: detail.ReturnableItems,
		Steps:           make([]statusStepPayload, 0, len(detail.Steps)),
		Returns:         buildReturnList(detail.Returns, detail.Order.Currency),
	}
	if payload.ReturnableItems == nil {
		payload.ReturnableItems = []string{}
	}
	for _, step := range detail.Steps {
		payload.Steps = append(payload.Steps, statusStepPayload{Status: string(step.Status), Reached: step.Reached, Current: step.Current})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_token", "page token is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_item_not_found", "order item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "order can no longer be cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderItemAlreadyCancelled):
		httpx.WriteError(ctx, w, httpx.NewError("order_item_already_cancelled", "item is already cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_status_transition", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		serviceUnavailable(ctx, w, "order_service_unavailable", "order service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_page_token", "page token is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return or order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_item_not_found", "order item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_eligible", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnWindowClosed):
		httpx.WriteError(ctx, w, httpx.NewError("return_window_closed", "the return window for this order has closed", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrReturnAlreadyRequested):
		httpx.WriteError(ctx, w, httpx.NewError("return_already_requested", "a return has already been requested", http.StatusConflict))
	case errors.Is(err, services.ErrReturnNotPending):
		httpx.WriteError(ctx, w, httpx.NewError("return_already_reviewed", "return has already been reviewed", http.StatusConflict))
	case errors.Is(err, services.ErrReturnUnavailable):
		serviceUnavailable(ctx, w, "return_service_unavailable", "return service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("return_error", "failed to process return request", http.StatusInternalServerError))
	}
}
