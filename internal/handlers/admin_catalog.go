package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/services"
)

type couponRequest struct {
	Code            string  `json:"code"`
	Description     string  `json:"description"`
	DiscountPercent int     `json:"discount_percent"`
	MinPurchase     int64   `json:"min_purchase"`
	MaxDiscount     int64   `json:"max_discount"`
	ValidFrom       string  `json:"valid_from" validate:"required"`
	ValidUntil      *string `json:"valid_until"`
	UsageLimit      int     `json:"usage_limit"`
	Active          *bool   `json:"active"`
}

type couponPayload struct {
	ID              string       `json:"id"`
	Code            string       `json:"code"`
	Description     string       `json:"description,omitempty"`
	DiscountPercent int          `json:"discount_percent"`
	MinPurchase     moneyPayload `json:"min_purchase"`
	MaxDiscount     moneyPayload `json:"max_discount"`
	ValidFrom       string       `json:"valid_from"`
	ValidUntil      string       `json:"valid_until,omitempty"`
	UsageLimit      int          `json:"usage_limit"`
	UsedCount       int          `json:"used_count"`
	Active          bool         `json:"active"`
	CreatedAt       string       `json:"created_at"`
	UpdatedAt       string       `json:"updated_at"`
}

type offerRequest struct {
	Percent    int     `json:"percent"`
	Active     *bool   `json:"active"`
	ValidFrom  *string `json:"valid_from"`
	ValidUntil *string `json:"valid_until"`
}

type offerPayload struct {
	Kind       string `json:"kind"`
	TargetID   string `json:"target_id"`
	Percent    int    `json:"percent"`
	Active     bool   `json:"active"`
	ValidFrom  string `json:"valid_from,omitempty"`
	ValidUntil string `json:"valid_until,omitempty"`
	UpdatedAt  string `json:"updated_at"`
}

func (h *AdminHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter := services.CouponListFilter{
		Search:     strings.TrimSpace(r.URL.Query().Get("q")),
		Pagination: services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active must be a boolean", http.StatusBadRequest))
			return
		}
		filter.ActiveOnly = &active
	}
	page, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupons": items, "next_page_token": page.NextPageToken})
}

func (h *AdminHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	h.saveCoupon(w, r, "")
}

func (h *AdminHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	h.saveCoupon(w, r, chi.URLParam(r, "couponID"))
}

func (h *AdminHandlers) saveCoupon(w http.ResponseWriter, r *http.Request, couponID string) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	var req couponRequest
	if herr := decodeRequest(r, maxAdminBodySize, &req, false); herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	cmd, herr := req.command(couponID)
	if herr != nil {
		httpx.WriteError(ctx, w, *herr)
		return
	}
	var (
		coupon services.Coupon
		err    error
	)
	if couponID == "" {
		coupon, err = h.coupons.CreateCoupon(ctx, cmd)
	} else {
		coupon, err = h.coupons.UpdateCoupon(ctx, cmd)
	}
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	status := http.StatusOK
	if couponID == "" {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (req couponRequest) command(couponID string) (services.UpsertCouponCommand, *httpx.Error) {
	validFrom, err := parseRFC3339(strings.TrimSpace(req.ValidFrom))
	if err != nil {
		e := httpx.NewError("invalid_request", "valid_from must be an RFC3339 timestamp", http.StatusBadRequest)
		return services.UpsertCouponCommand{}, &e
	}
	cmd := services.UpsertCouponCommand{
		ID:              couponID,
		Code:            domain.NormalizeCouponCode(req.Code),
		Description:     strings.TrimSpace(req.Description),
		DiscountPercent: req.DiscountPercent,
		MinPurchase:     req.MinPurchase,
		MaxDiscount:     req.MaxDiscount,
		ValidFrom:       validFrom,
		UsageLimit:      req.UsageLimit,
		Active:          true,
	}
	if req.Active != nil {
		cmd.Active = *req.Active
	}
	if req.ValidUntil != nil && strings.TrimSpace(*req.ValidUntil) != "" {
		until, err := parseRFC3339(strings.TrimSpace(*req.ValidUntil))
		if err != nil {
			e := httpx.NewError("invalid_request", "valid_until must be an RFC3339 timestamp", http.StatusBadRequest)
			return services.UpsertCouponCommand{}, &e
		}
		cmd.ValidUntil = &until
	}
	return cmd, nil
}

func (h *AdminHandlers) toggleCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		serviceUnavailable(ctx, w, "coupon_unavailable", "coupon service unavailable")
		return
	}
	coupon, err := h.coupons.ToggleCoupon(ctx, chi.URLParam(r, "couponID"))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *AdminHandlers) upsertOffer(kind domain.OfferKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			serviceUnavailable(ctx, w, "catalog_unavailable", "catalog service unavailable")
			return
		}
		var req offerRequest
		if herr := decodeRequest(r, maxAdminBodySize, &req, false); herr != nil {
			httpx.WriteError(ctx, w, *herr)
			return
		}
		cmd := services.UpsertOfferCommand{
			Kind:     kind,
			TargetID: chi.URLParam(r, "targetID"),
			Percent:  req.Percent,
			Active:   true,
		}
		if req.Active != nil {
			cmd.Active = *req.Active
		}
		if req.ValidFrom != nil && strings.TrimSpace(*req.ValidFrom) != "" {
			from, err := parseRFC3339(strings.TrimSpace(*req.ValidFrom))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_from must be an RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			cmd.ValidFrom = from
		}
		if req.ValidUntil != nil && strings.TrimSpace(*req.ValidUntil) != "" {
			until, err := parseRFC3339(strings.TrimSpace(*req.ValidUntil))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_until must be an RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			cmd.ValidUntil = &until
		}
		offer, err := h.catalog.UpsertOffer(ctx, cmd)
		if err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]any{"offer": buildOfferPayload(offer)})
	}
}

func (h *AdminHandlers) deleteOffer(kind domain.OfferKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.catalog == nil {
			serviceUnavailable(ctx, w, "catalog_unavailable", "catalog service unavailable")
			return
		}
		if err := h.catalog.DeleteOffer(ctx, kind, chi.URLParam(r, "targetID")); err != nil {
			writeCatalogError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	return couponPayload{
		ID:              coupon.ID,
		Code:            coupon.Code,
		Description:     coupon.Description,
		DiscountPercent: coupon.DiscountPercent,
		MinPurchase:     newMoney(coupon.MinPurchase, ""),
		MaxDiscount:     newMoney(coupon.MaxDiscount, ""),
		ValidFrom:       formatTime(coupon.ValidFrom),
		ValidUntil:      formatTimePointer(coupon.ValidUntil),
		UsageLimit:      coupon.UsageLimit,
		UsedCount:       coupon.UsedCount,
		Active:          coupon.Active,
		CreatedAt:       formatTime(coupon.CreatedAt),
		UpdatedAt:       formatTime(coupon.UpdatedAt),
	}
}

func buildOfferPayload(offer services.Offer) offerPayload {
	return offerPayload{
		Kind:       string(offer.Kind),
		TargetID:   offer.TargetID,
		Percent:    offer.Percent,
		Active:     offer.Active,
		ValidFrom:  formatTime(offer.ValidFrom),
		ValidUntil: formatTimePointer(offer.ValidUntil),
		UpdatedAt:  formatTime(offer.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("offer_target_not_found", "product or brand not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		serviceUnavailable(ctx, w, "catalog_unavailable", "catalog service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process offer request", http.StatusInternalServerError))
	}
}
