package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/services"
)

func newAdminRouter(deps AdminDeps) chi.Router {
	router := chi.NewRouter()
	NewAdminHandlers(deps).Routes(router)
	return router
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return withUser(req, "staff-1", auth.RoleAdmin)
}

func TestAdminHandlersTransitionOrder(t *testing.T) {
	var captured services.OrderStatusTransitionCommand
	orders := &stubOrderService{
		transitionFunc: func(_ context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
			captured = cmd
			if cmd.TargetStatus == domain.OrderStatusDelivered {
				return services.Order{}, services.ErrOrderInvalidTransition
			}
			return services.Order{ID: cmd.OrderID, Status: cmd.TargetStatus}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/orders/ord-1:transition", `{"status":"shipped"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "staff-1" || captured.TargetStatus != domain.OrderStatusShipped {
		t.Fatalf("unexpected command %#v", captured)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/orders/ord-1:transition", `{"status":"delivered"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/orders/ord-1:transition", `{"status":"cancelled"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-forward status, got %d", rr.Code)
	}
}

func TestAdminHandlersStatsAndDetail(t *testing.T) {
	orders := &stubOrderService{
		statsFunc: func(context.Context) (services.OrderStats, error) {
			return services.OrderStats{
				TotalOrders: 3, Revenue: 90000, DeliveredCount: 1,
				PendingPaymentAmount: 20000, PendingPaymentCount: 1,
				ByPaymentStatus: map[domain.PaymentStatus]int{domain.PaymentStatusPaid: 2, domain.PaymentStatusPending: 1},
			}, nil
		},
		getFunc: func(_ context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error) {
			if !cmd.Admin || cmd.UserID != "" {
				t.Fatalf("expected admin read, got %#v", cmd)
			}
			return services.OrderDetail{Order: services.Order{ID: cmd.OrderID}}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Orders: orders})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/orders:stats", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	stats := decodeBody[orderStatsPayload](t, rr.Body)
	if stats.Revenue.Amount != 90000 || stats.ByPaymentStatus["paid"] != 2 || stats.PendingCount != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/orders/ord-5", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdminHandlersReviewReturns(t *testing.T) {
	returns := &stubReturnService{
		approveFunc: func(_ context.Context, cmd services.ReviewReturnCommand) (services.OrderReturn, error) {
			if cmd.ReviewerID != "staff-1" || cmd.Note != "ok" {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.OrderReturn{ID: cmd.ReturnID, Status: domain.ReturnStatusApproved, RefundAmount: 15000}, nil
		},
		rejectFunc: func(context.Context, services.ReviewReturnCommand) (services.OrderReturn, error) {
			return services.OrderReturn{}, services.ErrReturnNotPending
		},
		listFunc: func(_ context.Context, filter services.ReturnListFilter) (domain.CursorPage[services.OrderReturn], error) {
			if len(filter.Status) != 1 || filter.Status[0] != domain.ReturnStatusPending {
				t.Fatalf("unexpected filter %#v", filter)
			}
			return domain.CursorPage[services.OrderReturn]{Items: []services.OrderReturn{{ID: "ret-1"}}}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Returns: returns})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/returns/ret-1:approve", `{"note":"ok"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[struct {
		Return  returnPayload `json:"return"`
		Message string        `json:"message"`
	}](t, rr.Body)
	if resp.Return.Status != "approved" || resp.Message == "" {
		t.Fatalf("unexpected response %#v", resp)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/returns/ret-1:reject", ""))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	requireErrorCode(t, rr.Body.String(), "return_already_reviewed")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/returns?status=pending", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/returns?status=lost", ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersCreateCoupon(t *testing.T) {
	var captured services.UpsertCouponCommand
	coupons := &stubCouponService{
		createFunc: func(_ context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
			captured = cmd
			return services.Coupon{ID: "cpn-1", Code: cmd.Code, DiscountPercent: cmd.DiscountPercent, Active: cmd.Active, ValidFrom: cmd.ValidFrom}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Coupons: coupons})
	body := `{"code":" save20 ","discount_percent":20,"min_purchase":100000,"max_discount":50000,"valid_from":"2024-06-01T00:00:00Z","valid_until":"2024-07-01T00:00:00Z","usage_limit":100}`

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/coupons", body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "SAVE20" || !captured.Active || captured.ValidUntil == nil {
		t.Fatalf("unexpected command %#v", captured)
	}
	if !captured.ValidFrom.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected valid from %s", captured.ValidFrom)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/coupons", `{"code":"X","valid_from":"tomorrow"}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminHandlersCouponListAndToggle(t *testing.T) {
	coupons := &stubCouponService{
		listFunc: func(_ context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
			if filter.ActiveOnly == nil || !*filter.ActiveOnly || filter.Search != "SAVE" {
				t.Fatalf("unexpected filter %#v", filter)
			}
			return domain.CursorPage[services.Coupon]{Items: []services.Coupon{{ID: "cpn-1", Code: "SAVE10"}}}, nil
		},
		toggleFunc: func(_ context.Context, couponID string) (services.Coupon, error) {
			if couponID == "missing" {
				return services.Coupon{}, services.ErrCouponNotFound
			}
			return services.Coupon{ID: couponID, Active: false}, nil
		},
	}
	router := newAdminRouter(AdminDeps{Coupons: coupons})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodGet, "/coupons?active=true&q=SAVE", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/coupons/cpn-1:toggle", ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/coupons/missing:toggle", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminHandlersOffers(t *testing.T) {
	var upserted services.UpsertOfferCommand
	var deletedKind domain.OfferKind
	catalog := &stubCatalogService{
		upsertFunc: func(_ context.Context, cmd services.UpsertOfferCommand) (services.Offer, error) {
			upserted = cmd
			return services.Offer{Kind: cmd.Kind, TargetID: cmd.TargetID, Percent: cmd.Percent, Active: cmd.Active}, nil
		},
		deleteFunc: func(_ context.Context, kind domain.OfferKind, targetID string) error {
			deletedKind = kind
			if targetID == "missing" {
				return services.ErrCatalogNotFound
			}
			return nil
		},
	}
	router := newAdminRouter(AdminDeps{Catalog: catalog})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPut, "/offers/brands/brand-1", `{"percent":15,"valid_until":"2024-12-31T23:59:59Z"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if upserted.Kind != domain.OfferKindBrand || upserted.TargetID != "brand-1" || upserted.Percent != 15 || upserted.ValidUntil == nil {
		t.Fatalf("unexpected command %#v", upserted)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/offers/products/prod-1", ""))
	if rr.Code != http.StatusNoContent || deletedKind != domain.OfferKindProduct {
		t.Fatalf("expected 204 for product offer delete, got %d (%s)", rr.Code, deletedKind)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/offers/products/missing", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
