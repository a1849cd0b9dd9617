package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/services"
)

func newCartRouter(svc services.CartService) chi.Router {
	router := chi.NewRouter()
	NewCartHandlers(svc, "inr").Routes(router)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	svc := &stubCartService{
		getFunc: func(_ context.Context, userID string) (services.CartView, error) {
			if userID != "user-1" {
				t.Fatalf("unexpected user %q", userID)
			}
			return services.CartView{
				UserID: "user-1",
				Lines: []services.CartLine{{
					VariantID: "var-1", ProductName: "Blender", Quantity: 2,
					ListPrice: 20000, Price: 18000, OfferPercent: 10, Subtotal: 36000,
					Stock: 5, InStock: true, Available: true,
				}},
				Subtotal:       40000,
				Savings:        4000,
				DeliveryCharge: 4000,
				Total:          40000,
				ItemCount:      2,
				CanCheckout:    true,
			}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("expected no-store cache control")
	}
	resp := decodeBody[struct {
		Cart cartPayload `json:"cart"`
	}](t, rr.Body)
	if len(resp.Cart.Items) != 1 || resp.Cart.Items[0].Price != 18000 {
		t.Fatalf("unexpected items %#v", resp.Cart.Items)
	}
	if resp.Cart.DeliveryCharge.Amount != 4000 || resp.Cart.Total.Currency != "INR" {
		t.Fatalf("unexpected totals %#v", resp.Cart)
	}
	if resp.Cart.Total.Display == "" {
		t.Fatalf("expected display text")
	}
}

func TestCartHandlersUnauthenticated(t *testing.T) {
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	requireErrorCode(t, rr.Body.String(), "unauthenticated")
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	req := withUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemDefaultsQuantity(t *testing.T) {
	var captured services.AddCartItemCommand
	svc := &stubCartService{
		addFunc: func(_ context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
			captured = cmd
			return services.CartView{UserID: cmd.UserID, ItemCount: 1}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"variant_id":" var-9 "}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.VariantID != "var-9" || captured.Quantity != 1 || captured.UserID != "user-1" {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCartHandlersAddItemValidation(t *testing.T) {
	cases := map[string]string{
		"missing variant": `{"quantity":1}`,
		"too many":        `{"variant_id":"v","quantity":11}`,
		"unknown field":   `{"variant_id":"v","colour":"red"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := withUser(httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(body)), "user-1")
			rr := httptest.NewRecorder()
			newCartRouter(&stubCartService{}).ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestCartHandlersUpdateItem(t *testing.T) {
	var captured services.UpdateCartItemCommand
	svc := &stubCartService{
		updateFunc: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
			captured = cmd
			return services.CartView{}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodPatch, "/cart/items/var-2", strings.NewReader(`{"action":"increment"}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.VariantID != "var-2" || captured.Action != services.CartActionIncrement {
		t.Fatalf("unexpected command %#v", captured)
	}

	req = withUser(httptest.NewRequest(http.MethodPatch, "/cart/items/var-2", strings.NewReader(`{}`)), "user-1")
	rr = httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", rr.Code)
	}
}

func TestCartHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrCartOutOfStock, http.StatusConflict, "out_of_stock"},
		{services.ErrCartQuantityExceedsStock, http.StatusConflict, "quantity_exceeds_stock"},
		{services.ErrCartItemNotFound, http.StatusNotFound, "cart_item_not_found"},
		{services.ErrCartVariantNotFound, http.StatusNotFound, "variant_not_found"},
		{services.ErrCartItemUnavailable, http.StatusConflict, "item_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := &stubCartService{
				removeFunc: func(context.Context, string, string) (services.CartView, error) {
					return services.CartView{}, tc.err
				},
			}
			req := withUser(httptest.NewRequest(http.MethodDelete, "/cart/items/var-1", nil), "user-1")
			rr := httptest.NewRecorder()
			newCartRouter(svc).ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			requireErrorCode(t, rr.Body.String(), tc.code)
		})
	}
}
