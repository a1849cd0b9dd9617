package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the signed-in user's cart.
type CartHandlers struct {
	carts    services.CartService
	currency string
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService, currency string) *CartHandlers {
	return &CartHandlers{carts: carts, currency: normaliseCurrency(currency)}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addItem)
	r.Patch("/cart/items/{variantID}", h.updateItem)
	r.Delete("/cart/items/{variantID}", h.removeItem)
}

type addCartItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,max=128"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=10"`
}

type updateCartItemRequest struct {
	Action   string `json:"action" validate:"omitempty,oneof=increment decrement"`
	Quantity int    `json:"quantity" validate:"omitempty,min=1,max=10"`
}

type cartLinePayload struct {
	VariantID    string `json:"variant_id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ColorName    string `json:"color_name,omitempty"`
	ColorCode    string `json:"color_code,omitempty"`
	Quantity     int    `json:"quantity"`
	ListPrice    int64  `json:"list_price"`
	Price        int64  `json:"price"`
	OfferPercent int    `json:"offer_percent,omitempty"`
	OfferKind    string `json:"offer_kind,omitempty"`
	Subtotal     int64  `json:"subtotal"`
	Stock        int    `json:"stock"`
	InStock      bool   `json:"in_stock"`
	Available    bool   `json:"available"`
}

type cartPayload struct {
	Items          []cartLinePayload `json:"items"`
	ItemCount      int               `json:"item_count"`
	Subtotal       moneyPayload      `json:"subtotal"`
	Savings        moneyPayload      `json:"savings"`
	DeliveryCharge moneyPayload      `json:"delivery_charge"`
	Total          moneyPayload      `json:"total"`
	CanCheckout    bool              `json:"can_checkout"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(view, h.currency)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req addCartItemRequest
	if herr := decodeRequest(r, maxCartBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	view, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    userID,
		VariantID: strings.TrimSpace(req.VariantID),
		Quantity:  quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(view, h.currency)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req updateCartItemRequest
	if herr := decodeRequest(r, maxCartBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	if req.Action == "" && req.Quantity == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "action or quantity is required", http.StatusBadRequest))
		return
	}
	view, err := h.carts.UpdateQuantity(ctx, services.UpdateCartItemCommand{
		UserID:    userID,
		VariantID: strings.TrimSpace(chi.URLParam(r, "variantID")),
		Action:    services.CartAction(req.Action),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(view, h.currency)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.carts.RemoveItem(ctx, userID, strings.TrimSpace(chi.URLParam(r, "variantID")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(view, h.currency)})
}

func buildCartPayload(view services.CartView, currency string) cartPayload {
	payload := cartPayload{
		Items:          make([]cartLinePayload, 0, len(view.Lines)),
		ItemCount:      view.ItemCount,
		Subtotal:       newMoney(view.Subtotal, currency),
		Savings:        newMoney(view.Savings, currency),
		DeliveryCharge: newMoney(view.DeliveryCharge, currency),
		Total:          newMoney(view.Total, currency),
		CanCheckout:    view.CanCheckout,
		UpdatedAt:      formatTime(view.UpdatedAt),
	}
	for _, line := range view.Lines {
		payload.Items = append(payload.Items, cartLinePayload{
			VariantID:    line.VariantID,
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			ColorName:    line.ColorName,
			ColorCode:    line.ColorCode,
			Quantity:     line.Quantity,
			ListPrice:    line.ListPrice,
			Price:        line.Price,
			OfferPercent: line.OfferPercent,
			OfferKind:    string(line.OfferKind),
			Subtotal:     line.Subtotal,
			Stock:        line.Stock,
			InStock:      line.InStock,
			Available:    line.Available,
		})
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartVariantNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("variant_not_found", "product variant not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", "this product is currently unavailable", http.StatusConflict))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "this product is out of stock", http.StatusConflict))
	case errors.Is(err, services.ErrCartQuantityExceedsStock):
		httpx.WriteError(ctx, w, httpx.NewError("quantity_exceeds_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		serviceUnavailable(ctx, w, "cart_service_unavailable", "cart service is unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}
