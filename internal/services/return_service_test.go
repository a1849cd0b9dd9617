package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

func deliveredOrder(t *testing.T, sf *storefront, lines map[string]int) Order {
	t.Helper()
	for _, variantID := range []string{"lite-black", "pro-blue", "max-gold"} {
		if qty, ok := lines[variantID]; ok {
			sf.addToCart(shopper, variantID, qty)
		}
	}
	order := sf.place(domain.PaymentMethodCOD)
	return sf.deliver(order.ID)
}

func TestRequestReturnHonoursWindow(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	order := deliveredOrder(t, sf, map[string]int{"lite-black": 1})

	sf.advance(7*24*time.Hour + time.Minute)
	_, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, Reason: "damaged"})
	if !errors.Is(err, ErrReturnWindowClosed) {
		t.Fatalf("expected ErrReturnWindowClosed, got %v", err)
	}
	detail, err := sf.orders.GetOrder(ctx, GetOrderCommand{OrderID: order.ID, UserID: shopper})
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if detail.CanReturn || detail.ReturnDaysLeft != 0 {
		t.Fatalf("expected return closed, got %+v", detail)
	}
}

func TestRequestReturnValidation(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	sf.addToCart(shopper, "lite-black", 1)
	confirmed := sf.place(domain.PaymentMethodCOD)

	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: confirmed.ID, Reason: "late"}); !errors.Is(err, ErrReturnNotEligible) {
		t.Fatalf("expected ErrReturnNotEligible for undelivered order, got %v", err)
	}
	sf.deliver(confirmed.ID)
	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: confirmed.ID, Reason: "  "}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput without reason, got %v", err)
	}
	if _, err := sf.returns.RequestItemReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: confirmed.ID, Reason: "late"}); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput without item, got %v", err)
	}
	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: otherShopper, OrderID: confirmed.ID, Reason: "late"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for another user, got %v", err)
	}
}

func TestRequestReturnTruncatesDescription(t *testing.T) {
	sf := newStorefront(t)
	order := deliveredOrder(t, sf, map[string]int{"lite-black": 1})

	requested, err := sf.returns.RequestOrderReturn(context.Background(), RequestReturnCommand{
		UserID:      shopper,
		OrderID:     order.ID,
		Reason:      "damaged",
		Description: strings.Repeat("b", 900),
	})
	if err != nil {
		t.Fatalf("RequestOrderReturn: %v", err)
	}
	if got := len(requested.Description); got != maxDescriptionLength || got != 500 {
		t.Fatalf("expected description truncated to 500 characters, got %d", got)
	}
}

func TestApproveOrderReturnCreditsWalletOnce(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	order := deliveredOrder(t, sf, map[string]int{"lite-black": 2})
	if order.AmountPaid != 34000 {
		t.Fatalf("expected 34000 collected on delivery, got %d", order.AmountPaid)
	}

	requested, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, Reason: "Not as described", Description: "<script>x</script>screen scratched"})
	if err != nil {
		t.Fatalf("RequestOrderReturn: %v", err)
	}
	if requested.Status != domain.ReturnStatusPending || requested.RefundAmount != 34000 || requested.Description != "screen scratched" {
		t.Fatalf("unexpected return request %+v", requested)
	}
	if got := sf.order(order.ID); got.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected request to leave the order alone, got %s", got.Status)
	}
	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, Reason: "again"}); !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected ErrReturnAlreadyRequested, got %v", err)
	}

	approved, err := sf.returns.ApproveReturn(ctx, ReviewReturnCommand{ReturnID: requested.ID, ReviewerID: "admin-1", Note: "ok"})
	if err != nil {
		t.Fatalf("ApproveReturn: %v", err)
	}
	if approved.Status != domain.ReturnStatusApproved || approved.ReviewedAt == nil || approved.RefundAmount != 34000 {
		t.Fatalf("unexpected approved return %+v", approved)
	}
	got := sf.order(order.ID)
	if got.Status != domain.OrderStatusReturned || got.PaymentStatus != domain.PaymentStatusRefunded || got.Paid {
		t.Fatalf("unexpected returned order %+v", got)
	}
	if stock := sf.stock("lite-black"); stock != 10 {
		t.Fatalf("expected stock restored, got %d", stock)
	}
	if balance := sf.balance(shopper); balance != 34000 {
		t.Fatalf("expected wallet credited 34000, got %d", balance)
	}

	if _, err := sf.returns.ApproveReturn(ctx, ReviewReturnCommand{ReturnID: requested.ID, ReviewerID: "admin-1"}); !errors.Is(err, ErrReturnNotPending) {
		t.Fatalf("expected ErrReturnNotPending, got %v", err)
	}
	if balance := sf.balance(shopper); balance != 34000 {
		t.Fatalf("expected no second credit, got %d", balance)
	}
}

func TestApproveItemReturnRecomputesTotals(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	order := deliveredOrder(t, sf, map[string]int{"lite-black": 1, "pro-blue": 1})
	pro := itemFor(t, order, "pro-blue")

	requested, err := sf.returns.RequestItemReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, ItemID: pro.ID, Reason: "wrong colour"})
	if err != nil {
		t.Fatalf("RequestItemReturn: %v", err)
	}
	if requested.RefundAmount != 30000 {
		t.Fatalf("expected refund of the item subtotal, got %d", requested.RefundAmount)
	}
	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, Reason: "all of it"}); !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected pending item return to block an order return, got %v", err)
	}

	if _, err := sf.returns.ApproveReturn(ctx, ReviewReturnCommand{ReturnID: requested.ID, ReviewerID: "admin-1"}); err != nil {
		t.Fatalf("ApproveReturn: %v", err)
	}
	got := sf.order(order.ID)
	if got.Status != domain.OrderStatusDelivered || got.Total != 19000 || got.RefundedAmount != 30000 {
		t.Fatalf("unexpected order after item return %+v", got)
	}
	assertTotalInvariant(t, got)
	if item := itemFor(t, got, "pro-blue"); item.Status != domain.ItemStatusReturned || item.ReturnedAt == nil {
		t.Fatalf("expected item returned, got %+v", item)
	}
	if got.PaymentStatus != domain.PaymentStatusPaid || !got.Paid {
		t.Fatalf("expected payment to stay paid while money remains, got %s", got.PaymentStatus)
	}
	if balance := sf.balance(shopper); balance != 30000 {
		t.Fatalf("expected wallet credited 30000, got %d", balance)
	}
	if stock := sf.stock("pro-blue"); stock != 5 {
		t.Fatalf("expected pro-blue restored, got %d", stock)
	}

	returns, err := sf.returns.GetOrderReturns(ctx, shopper, order.ID)
	if err != nil {
		t.Fatalf("GetOrderReturns: %v", err)
	}
	if len(returns) != 1 || returns[0].ID != requested.ID {
		t.Fatalf("unexpected order returns %+v", returns)
	}
}

func TestRejectReturn(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	order := deliveredOrder(t, sf, map[string]int{"lite-black": 1, "pro-blue": 1})
	lite := itemFor(t, order, "lite-black")

	requested, err := sf.returns.RequestItemReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, ItemID: lite.ID, Reason: "changed mind"})
	if err != nil {
		t.Fatalf("RequestItemReturn: %v", err)
	}
	rejected, err := sf.returns.RejectReturn(ctx, ReviewReturnCommand{ReturnID: requested.ID, ReviewerID: "admin-1", Note: "used item"})
	if err != nil {
		t.Fatalf("RejectReturn: %v", err)
	}
	if rejected.Status != domain.ReturnStatusRejected || rejected.ReviewNote != "used item" {
		t.Fatalf("unexpected rejected return %+v", rejected)
	}
	if _, err := sf.returns.RejectReturn(ctx, ReviewReturnCommand{ReturnID: requested.ID}); !errors.Is(err, ErrReturnNotPending) {
		t.Fatalf("expected ErrReturnNotPending, got %v", err)
	}
	if balance := sf.balance(shopper); balance != 0 {
		t.Fatalf("expected no credit on rejection, got %d", balance)
	}
	if _, err := sf.returns.RequestItemReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, ItemID: lite.ID, Reason: "again"}); !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected an item to be returnable once, got %v", err)
	}
	if _, err := sf.returns.RequestOrderReturn(ctx, RequestReturnCommand{UserID: shopper, OrderID: order.ID, Reason: "whole order"}); err != nil {
		t.Fatalf("expected a rejected item return not to block an order return, got %v", err)
	}

	page, err := sf.returns.ListReturns(ctx, ReturnListFilter{Status: []domain.ReturnStatus{domain.ReturnStatusPending}})
	if err != nil {
		t.Fatalf("ListReturns: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].IsItemReturn() {
		t.Fatalf("expected only the pending order return, got %+v", page.Items)
	}
}
