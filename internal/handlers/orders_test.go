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
	"github.com/dingdong-ecommerce/api/internal/services"
)

var ordersNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newOrderRouter(orders services.OrderService, returns services.ReturnService) chi.Router {
	router := chi.NewRouter()
	NewOrderHandlers(orders, returns, func() time.Time { return ordersNow }).Routes(router)
	return router
}

func TestOrderHandlersListAppliesFilters(t *testing.T) {
	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFunc: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{{ID: "ord-1", OrderNumber: "DD-000001", Status: domain.OrderStatusPending}},
				NextPageToken: "next",
			}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/orders?status=pending,delivered&range=last-week&pageSize=5&q=DD-0", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" || captured.Search != "DD-0" || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %#v", captured)
	}
	if len(captured.Status) != 2 || captured.Status[1] != domain.OrderStatusDelivered {
		t.Fatalf("unexpected status filter %#v", captured.Status)
	}
	if !captured.Created.From.Equal(ordersNow.AddDate(0, 0, -7)) {
		t.Fatalf("unexpected range start %s", captured.Created.From)
	}
	resp := decodeBody[struct {
		Orders        []orderPayload `json:"orders"`
		NextPageToken string         `json:"next_page_token"`
	}](t, rr.Body)
	if len(resp.Orders) != 1 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestOrderHandlersListRejectsBadQuery(t *testing.T) {
	for _, query := range []string{"status=lost", "range=yesterday", "created_after=soon"} {
		req := withUser(httptest.NewRequest(http.MethodGet, "/orders?"+query, nil), "user-1")
		rr := httptest.NewRecorder()
		newOrderRouter(&stubOrderService{}, nil).ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderDetail(t *testing.T) {
	delivered := ordersNow.Add(-48 * time.Hour)
	orders := &stubOrderService{
		getFunc: func(_ context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error) {
			if cmd.UserID != "user-1" || cmd.Admin {
				t.Fatalf("unexpected command %#v", cmd)
			}
			return services.OrderDetail{
				Order: services.Order{
					ID: cmd.OrderID, Status: domain.OrderStatusDelivered, DeliveredAt: &delivered,
					Items: []services.OrderItem{{ID: "item-1", Quantity: 1, Price: 1000, Status: domain.ItemStatusActive}},
				},
				CanReturn:       true,
				ReturnDaysLeft:  5,
				ReturnableItems: []string{"item-1"},
				Steps:           []services.StatusStep{{Status: domain.OrderStatusDelivered, Reached: true, Current: true}},
			}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/ord-9", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[orderDetailPayload](t, rr.Body)
	if resp.Order.ID != "ord-9" || !resp.CanReturn || resp.ReturnDaysLeft != 5 || len(resp.Steps) != 1 {
		t.Fatalf("unexpected detail %#v", resp)
	}
	if resp.Returns == nil {
		t.Fatalf("expected empty returns list, got nil")
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(context.Context, services.GetOrderCommand) (services.OrderDetail, error) {
			return services.OrderDetail{}, services.ErrOrderNotFound
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/orders/other", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	requireErrorCode(t, rr.Body.String(), "order_not_found")
}

func TestOrderHandlersCancelOrderReportsRefund(t *testing.T) {
	orders := &stubOrderService{
		getFunc: func(_ context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error) {
			return services.OrderDetail{Order: services.Order{ID: cmd.OrderID, Paid: true, AmountPaid: 54000, Currency: "INR"}}, nil
		},
		cancelFunc: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Reason != "changed my mind" {
				t.Fatalf("unexpected reason %q", cmd.Reason)
			}
			return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled, RefundedAmount: 54000, Currency: "INR"}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1:cancel", strings.NewReader(`{"reason":"changed my mind"}`)), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(orders, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[orderMutationPayload](t, rr.Body)
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("unexpected status %q", resp.Order.Status)
	}
	if !strings.Contains(resp.Message, "wallet") {
		t.Fatalf("expected refund message, got %q", resp.Message)
	}
}

func TestOrderHandlersCancelItemErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrOrderNotCancellable, http.StatusConflict, "order_not_cancellable"},
		{services.ErrOrderItemAlreadyCancelled, http.StatusConflict, "order_item_already_cancelled"},
		{services.ErrOrderItemNotFound, http.StatusNotFound, "order_item_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			orders := &stubOrderService{
				getFunc: func(_ context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error) {
					return services.OrderDetail{Order: services.Order{ID: cmd.OrderID}}, nil
				},
				cancelItemFunc: func(_ context.Context, cmd services.CancelItemCommand) (services.Order, error) {
					if cmd.ItemID != "item-2" {
						t.Fatalf("unexpected item %q", cmd.ItemID)
					}
					return services.Order{}, tc.err
				},
			}
			req := withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1/items/item-2:cancel", nil), "user-1")
			rr := httptest.NewRecorder()
			newOrderRouter(orders, nil).ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			requireErrorCode(t, rr.Body.String(), tc.code)
		})
	}
}

func TestOrderHandlersRequestReturns(t *testing.T) {
	var orderCmd, itemCmd services.RequestReturnCommand
	returns := &stubReturnService{
		requestOrderFunc: func(_ context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error) {
			orderCmd = cmd
			return services.OrderReturn{ID: "ret-1", OrderID: cmd.OrderID, Status: domain.ReturnStatusPending}, nil
		},
		requestItemFunc: func(_ context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error) {
			itemCmd = cmd
			return services.OrderReturn{}, services.ErrReturnWindowClosed
		},
	}
	router := newOrderRouter(nil, returns)

	body := `{"reason":"damaged","description":"screen cracked"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1:return", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if orderCmd.OrderID != "ord-1" || orderCmd.ItemID != "" || orderCmd.Description != "screen cracked" {
		t.Fatalf("unexpected order return command %#v", orderCmd)
	}

	req = withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1/items/item-3:return", strings.NewReader(body)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if itemCmd.ItemID != "item-3" {
		t.Fatalf("unexpected item return command %#v", itemCmd)
	}
	requireErrorCode(t, rr.Body.String(), "return_window_closed")

	req = withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1:return", strings.NewReader(`{"description":"no reason"}`)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", rr.Code)
	}

	long := `{"reason":"damaged","description":"` + strings.Repeat("a", 501) + `"}`
	req = withUser(httptest.NewRequest(http.MethodPost, "/orders/ord-1:return", strings.NewReader(long)), "user-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a 501 character description, got %d", rr.Code)
	}
}
