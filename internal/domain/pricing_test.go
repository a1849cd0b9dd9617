package domain

import (
	"testing"
	"time"
)

var now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

func TestApplyPercentRoundsHalfUp(t *testing.T) {
	cases := []struct {
		amount  int64
		percent int
		want    int64
	}{
		{amount: 999, percent: 15, want: 150},
		{amount: 1001, percent: 5, want: 50},
		{amount: 1010, percent: 5, want: 51},
		{amount: 1000, percent: 150, want: 1000},
		{amount: 0, percent: 10, want: 0},
	}
	for _, tc := range cases {
		if got := ApplyPercent(tc.amount, tc.percent); got != tc.want {
			t.Fatalf("ApplyPercent(%d, %d) = %d, want %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}

func TestResolveOffer(t *testing.T) {
	product := &Offer{Kind: OfferKindProduct, Percent: 10, Active: true, ValidFrom: now.Add(-time.Hour)}
	brand := &Offer{Kind: OfferKindBrand, Percent: 20, Active: true}

	got := ResolveOffer(product, brand, 10000, now)
	if got.Kind != OfferKindBrand || got.Price != 8000 || got.Percent != 20 {
		t.Fatalf("expected brand offer to win, got %+v", got)
	}

	tie := &Offer{Kind: OfferKindBrand, Percent: 10, Active: true}
	got = ResolveOffer(product, tie, 10000, now)
	if got.Kind != OfferKindProduct {
		t.Fatalf("expected product offer to win tie, got %+v", got)
	}

	future := &Offer{Kind: OfferKindProduct, Percent: 50, Active: true, ValidFrom: now.Add(time.Hour)}
	got = ResolveOffer(future, nil, 10000, now)
	if got.Kind != OfferKindNone || got.Price != 10000 {
		t.Fatalf("expected not-yet-started offer to be ignored, got %+v", got)
	}

	expiredBrand := &Offer{Kind: OfferKindBrand, Percent: 30, Active: true, ValidUntil: ptrTime(now.Add(-time.Minute))}
	got = ResolveOffer(nil, expiredBrand, 10000, now)
	if got.Kind != OfferKindNone {
		t.Fatalf("expected expired brand offer to be ignored, got %+v", got)
	}

	inactive := &Offer{Kind: OfferKindProduct, Percent: 30}
	if got := ResolveOffer(inactive, nil, 10000, now); got.Kind != OfferKindNone {
		t.Fatalf("expected inactive offer to be ignored, got %+v", got)
	}
}

func TestDeliveryCharge(t *testing.T) {
	rules := DeliveryRules{FreeThreshold: 50000, Charge: 4000}
	if got := rules.DeliveryCharge(45000); got != 4000 {
		t.Fatalf("expected charge below threshold, got %d", got)
	}
	if got := rules.DeliveryCharge(50000); got != 0 {
		t.Fatalf("expected free delivery at threshold, got %d", got)
	}
	if got := rules.DeliveryCharge(0); got != 0 {
		t.Fatalf("expected no charge for empty subtotal, got %d", got)
	}
}

func TestCouponDiscountCapped(t *testing.T) {
	coupon := Coupon{DiscountPercent: 50, MaxDiscount: 10000}
	if got := CouponDiscount(coupon, 60000); got != 10000 {
		t.Fatalf("expected cap, got %d", got)
	}
	coupon.MaxDiscount = 0
	if got := CouponDiscount(coupon, 60000); got != 30000 {
		t.Fatalf("expected uncapped discount, got %d", got)
	}
}

func sampleOrder() Order {
	order := Order{
		DeliveryCharge: 4000,
		Items: []OrderItem{
			{ID: "a", Quantity: 1, ListPrice: 20000, Price: 18000, Status: ItemStatusActive},
			{ID: "b", Quantity: 2, ListPrice: 10000, Price: 10000, Status: ItemStatusActive},
			{ID: "c", Quantity: 1, ListPrice: 5000, Price: 5000, Status: ItemStatusActive},
		},
		CouponDiscount: 3000,
	}
	order.Recalculate()
	return order
}

func assertTotal(t *testing.T, o Order) {
	t.Helper()
	if o.Total != o.Subtotal+o.DeliveryCharge-o.DiscountAmount-o.CouponDiscount {
		t.Fatalf("total invariant broken: %+v", o)
	}
	if o.Total < 0 {
		t.Fatalf("negative total: %d", o.Total)
	}
}

func TestOrderRecalculate(t *testing.T) {
	order := sampleOrder()
	assertTotal(t, order)
	if order.Subtotal != 45000 || order.DiscountAmount != 2000 || order.Total != 44000 {
		t.Fatalf("unexpected totals: subtotal=%d discount=%d total=%d", order.Subtotal, order.DiscountAmount, order.Total)
	}
	if order.Items[1].Subtotal != 20000 {
		t.Fatalf("expected item subtotal derived from price, got %d", order.Items[1].Subtotal)
	}

	order.Items[0].Status = ItemStatusCancelled
	order.Recalculate()
	assertTotal(t, order)
	if order.Subtotal != 25000 || order.DeliveryCharge != 4000 {
		t.Fatalf("unexpected totals after cancel: %+v", order)
	}

	order.Items[1].Status = ItemStatusCancelled
	order.Items[2].Status = ItemStatusReturned
	order.Recalculate()
	assertTotal(t, order)
	if order.Total != 0 || order.DeliveryCharge != 0 || order.CouponDiscount != 0 {
		t.Fatalf("expected zero totals once no item is active, got %+v", order)
	}
}

func TestOrderCouponClamp(t *testing.T) {
	order := Order{
		Items:          []OrderItem{{ID: "a", Quantity: 1, ListPrice: 1000, Price: 1000, Status: ItemStatusActive}},
		CouponDiscount: 5000,
	}
	order.Recalculate()
	assertTotal(t, order)
	if order.CouponDiscount != 1000 || order.Total != 0 {
		t.Fatalf("expected clamp to order value, got %+v", order)
	}
}

func TestRefundableRemaining(t *testing.T) {
	order := Order{Paid: true, AmountPaid: 10000, RefundedAmount: 2500}
	if got := order.RefundableRemaining(); got != 7500 {
		t.Fatalf("expected 7500, got %d", got)
	}
	order.Paid = false
	if got := order.RefundableRemaining(); got != 0 {
		t.Fatalf("expected nothing refundable when unpaid, got %d", got)
	}
}

func TestReturnWindow(t *testing.T) {
	window := 7 * 24 * time.Hour
	order := Order{Status: OrderStatusDelivered, DeliveredAt: ptrTime(now.Add(-6*24*time.Hour - time.Hour))}
	if !order.WithinReturnWindow(now, window) {
		t.Fatalf("expected order inside window")
	}
	if got := order.ReturnDaysLeft(now, window); got != 1 {
		t.Fatalf("expected 1 day left, got %d", got)
	}
	order.DeliveredAt = ptrTime(now.Add(-8 * 24 * time.Hour))
	if order.WithinReturnWindow(now, window) || order.ReturnDaysLeft(now, window) != 0 {
		t.Fatalf("expected window closed")
	}
	order.DeliveredAt = nil
	if order.WithinReturnWindow(now, window) {
		t.Fatalf("expected no window without delivery time")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		want     bool
	}{
		{OrderStatusConfirmed, OrderStatusShipped, true},
		{OrderStatusShipped, OrderStatusOutForDelivery, true},
		{OrderStatusOutForDelivery, OrderStatusDelivered, true},
		{OrderStatusShipped, OrderStatusDelivered, false},
		{OrderStatusPending, OrderStatusConfirmed, false},
		{OrderStatusDelivered, OrderStatusReturned, false},
		{OrderStatusCancelled, OrderStatusShipped, false},
		{OrderStatusConfirmed, OrderStatusCancelled, false},
		{OrderStatusShipped, OrderStatusConfirmed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
