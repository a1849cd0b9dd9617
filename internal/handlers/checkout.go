package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/platform/observability"
	"github.com/dingdong-ecommerce/api/internal/services"
)

const (
	maxCheckoutBodySize  = 8 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

// Coupon attempts allowed per user in each window.
const (
	CouponAttemptLimit  = 10
	CouponAttemptWindow = time.Minute
)

// CheckoutHandlers exposes checkout, coupon and payment endpoints.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	coupons     services.CouponService
	currency    string
	idempotency func(http.Handler) http.Handler
	limiter     AttemptLimiter
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithPlacementIdempotency wraps order placement with mw.
func WithPlacementIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) { h.idempotency = mw }
}

// WithCouponRateLimit overrides the in-process coupon attempt limit per user.
func WithCouponRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) { h.limiter = NewMemoryAttemptLimiter(limit, window, clock) }
}

// WithCouponLimiter replaces the coupon attempt limiter, typically with one
// shared through Redis.
func WithCouponLimiter(limiter AttemptLimiter) CheckoutOption {
	return func(h *CheckoutHandlers) { h.limiter = limiter }
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, coupons services.CouponService, currency string, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		checkout: checkout,
		coupons:  coupons,
		currency: normaliseCurrency(currency),
		limiter:  NewMemoryAttemptLimiter(CouponAttemptLimit, CouponAttemptWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Get("/checkout", h.summary)
	r.Post("/checkout/coupon", h.applyCoupon)
	r.Delete("/checkout/coupon", h.removeCoupon)
	place := http.Handler(http.HandlerFunc(h.placeOrder))
	if h.idempotency != nil {
		place = h.idempotency(place)
	}
	r.Method(http.MethodPost, "/checkout/orders", place)
	r.Post("/checkout/orders/{orderID}/payment:confirm", h.confirmPayment)
	r.Post("/checkout/orders/{orderID}/payment:retry", h.retryPayment)
	r.Post("/checkout/orders/{orderID}/payment:fail", h.failPayment)
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=20"`
}

type placeOrderRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cod online wallet"`
	AddressID     string `json:"address_id" validate:"omitempty,max=128"`
	Gateway       string `json:"gateway" validate:"omitempty,max=32"`
}

type confirmPaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required,max=128"`
	PaymentID      string `json:"payment_id" validate:"required,max=128"`
	Signature      string `json:"signature" validate:"max=512"`
}

type failPaymentRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

type pendingCouponPayload struct {
	Code            string       `json:"code"`
	DiscountPercent int          `json:"discount_percent"`
	Discount        moneyPayload `json:"discount"`
	ExpiresAt       string       `json:"expires_at"`
}

type gatewayOrderPayload struct {
	ID           string       `json:"id"`
	Provider     string       `json:"provider"`
	Amount       moneyPayload `json:"amount"`
	KeyID        string       `json:"key_id,omitempty"`
	ClientSecret string       `json:"client_secret,omitempty"`
}

type checkoutSummaryPayload struct {
	Cart           cartPayload           `json:"cart"`
	Coupon         *pendingCouponPayload `json:"coupon,omitempty"`
	CouponDiscount moneyPayload          `json:"coupon_discount"`
	Total          moneyPayload          `json:"total"`
	DefaultAddress *addressPayload       `json:"default_address,omitempty"`
	WalletBalance  moneyPayload          `json:"wallet_balance"`
	CODAllowed     bool                  `json:"cod_allowed"`
}

type placementPayload struct {
	Order   orderPayload         `json:"order"`
	Gateway *gatewayOrderPayload `json:"gateway,omitempty"`
}

func (h *CheckoutHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	summary, err := h.checkout.Summary(ctx, userID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	payload := checkoutSummaryPayload{
		Cart:           buildCartPayload(summary.Cart, h.currency),
		CouponDiscount: newMoney(summary.CouponDiscount, h.currency),
		Total:          newMoney(summary.Total, h.currency),
		WalletBalance:  newMoney(summary.WalletBalance, h.currency),
		CODAllowed:     summary.CODAllowed,
	}
	if summary.Coupon != nil {
		coupon := h.couponPayload(*summary.Coupon)
		payload.Coupon = &coupon
	}
	if summary.DefaultAddress != nil {
		addr := buildAddressPayload(*summary.DefaultAddress)
		payload.DefaultAddress = &addr
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CheckoutHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, "coupon:"+userID)
		if err != nil {
			// Limiter outages fail open.
			observability.FromContext(ctx).Warn("coupon limiter unavailable", zap.Error(err))
		} else if !allowed {
			httpx.WriteError(ctx, w, httpx.NewError("too_many_requests", "too many coupon attempts; try again later", http.StatusTooManyRequests))
			return
		}
	}
	var req applyCouponRequest
	if herr := decodeRequest(r, maxCheckoutBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	pending, err := h.coupons.ApplyCoupon(ctx, services.ApplyCouponCommand{UserID: userID, Code: req.Code})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupon": h.couponPayload(pending)})
}

func (h *CheckoutHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.coupons.RemoveCoupon(ctx, userID); err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req placeOrderRequest
	if herr := decodeRequest(r, maxCheckoutBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	result, err := h.checkout.PlaceOrder(ctx, services.PlaceOrderCommand{
		UserID:         userID,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		AddressID:      strings.TrimSpace(req.AddressID),
		Gateway:        strings.TrimSpace(req.Gateway),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		// The order exists even when the gateway could not be reached; the
		// client retries payment against it.
		if errors.Is(err, services.ErrPaymentGatewayUnavailable) && result.Order.ID != "" {
			writeJSONResponse(w, http.StatusAccepted, map[string]any{
				"order":   buildOrderPayload(result.Order),
				"error":   "payment_gateway_unavailable",
				"message": "order placed but payment could not be started; retry payment",
			})
			return
		}
		writeCheckoutError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, h.placementPayload(result))
}

func (h *CheckoutHandlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req confirmPaymentRequest
	if herr := decodeRequest(r, maxCheckoutBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	order, err := h.checkout.ConfirmPayment(ctx, services.ConfirmPaymentCommand{
		UserID:         userID,
		OrderID:        chi.URLParam(r, "orderID"),
		GatewayOrderID: strings.TrimSpace(req.GatewayOrderID),
		PaymentID:      strings.TrimSpace(req.PaymentID),
		Signature:      strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.checkout.RetryPayment(ctx, userID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, h.placementPayload(result))
}

func (h *CheckoutHandlers) failPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req failPaymentRequest
	if herr := decodeRequest(r, maxCheckoutBodySize, &req, true); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	order, err := h.checkout.MarkPaymentFailed(ctx, services.MarkPaymentFailedCommand{
		UserID:  userID,
		OrderID: chi.URLParam(r, "orderID"),
		Reason:  req.Reason,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *CheckoutHandlers) couponPayload(pending services.PendingCoupon) pendingCouponPayload {
	return pendingCouponPayload{
		Code:            pending.Code,
		DiscountPercent: pending.DiscountPercent,
		Discount:        newMoney(pending.Discount, h.currency),
		ExpiresAt:       formatTime(pending.ExpiresAt),
	}
}

func (h *CheckoutHandlers) placementPayload(result services.PlacementResult) placementPayload {
	payload := placementPayload{Order: buildOrderPayload(result.Order)}
	if gw := result.Gateway; gw != nil {
		payload.Gateway = &gatewayOrderPayload{
			ID:           gw.ID,
			Provider:     gw.Provider,
			Amount:       newMoney(gw.Amount, gw.Currency),
			KeyID:        gw.KeyID,
			ClientSecret: gw.ClientSecret,
		}
	}
	return payload
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "your cart is empty", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutAddressRequired):
		httpx.WriteError(ctx, w, httpx.NewError("address_required", "a delivery address is required", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutItemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutInsufficientStock), errors.Is(err, services.ErrPaymentOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCODLimit):
		httpx.WriteError(ctx, w, httpx.NewError("cod_not_available", "cash on delivery is not available for this order amount", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInsufficientWallet):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_wallet_balance", "wallet balance is not enough for this order", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentOrderMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_order_mismatch", "payment does not belong to this order", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignatureInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("payment_verification_failed", "payment could not be verified", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotRetryable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_allowed", "order is not awaiting payment", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		serviceUnavailable(ctx, w, "checkout_unavailable", "checkout service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponInactive),
		errors.Is(err, services.ErrCouponNotStarted),
		errors.Is(err, services.ErrCouponExpired),
		errors.Is(err, services.ErrCouponAlreadyUsed),
		errors.Is(err, services.ErrCouponLimitReached),
		errors.Is(err, services.ErrCouponMinPurchase),
		errors.Is(err, services.ErrCouponCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_applicable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponUnavailable):
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "failed to process coupon request", http.StatusInternalServerError))
	}
}
