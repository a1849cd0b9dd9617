package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

func TestValidCouponCode(t *testing.T) {
	cases := map[string]bool{
		"SAVE10":                true,
		"10SAVE":                true,
		"SAVE":                  false,
		"1234":                  false,
		"save10":                false,
		"SAVE-10":               false,
		"ABCDEFGHIJKLMNOPQRS12": false,
		"":                      false,
	}
	for code, want := range cases {
		if got := ValidCouponCode(code); got != want {
			t.Errorf("ValidCouponCode(%q) = %v, want %v", code, got, want)
		}
	}
}

func TestApplyCouponChecks(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()

	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: "SAVE10"}); !errors.Is(err, ErrCouponCartEmpty) {
		t.Fatalf("expected ErrCouponCartEmpty, got %v", err)
	}
	sf.addToCart(shopper, "pro-blue", 1)
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: "NOPE99"}); !errors.Is(err, ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: "BIG20"}); !errors.Is(err, ErrCouponMinPurchase) {
		t.Fatalf("expected ErrCouponMinPurchase, got %v", err)
	}

	pending, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: " save10 "})
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	// 10% of 30000 plus the 4000 delivery charge.
	if pending.Discount != 3400 || !pending.ExpiresAt.Equal(sf.now.Add(30*time.Minute)) {
		t.Fatalf("unexpected pending coupon %+v", pending)
	}

	sf.advance(31 * time.Minute)
	active, err := sf.coupons.ActiveCoupon(ctx, shopper)
	if err != nil {
		t.Fatalf("ActiveCoupon: %v", err)
	}
	if active != nil {
		t.Fatalf("expected pending coupon to expire, got %+v", active)
	}
}

func TestApplyCouponWindowAndState(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	sf.addToCart(shopper, "pro-blue", 1)
	until := sf.now.Add(-time.Minute)
	expired, err := sf.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "OLD5", DiscountPercent: 5, ValidFrom: sf.now.Add(-time.Hour), ValidUntil: &until, Active: true})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: expired.Code}); !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
	future, err := sf.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "SOON5", DiscountPercent: 5, ValidFrom: sf.now.Add(time.Hour), Active: true})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: future.Code}); !errors.Is(err, ErrCouponNotStarted) {
		t.Fatalf("expected ErrCouponNotStarted, got %v", err)
	}
	toggled, err := sf.coupons.ToggleCoupon(ctx, "cpn-save10")
	if err != nil || toggled.Active {
		t.Fatalf("expected coupon switched off, got %+v (%v)", toggled, err)
	}
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: "SAVE10"}); !errors.Is(err, ErrCouponInactive) {
		t.Fatalf("expected ErrCouponInactive, got %v", err)
	}
}

func TestCreateCouponValidation(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	cases := []UpsertCouponCommand{
		{Code: "NODIGITS", DiscountPercent: 10, ValidFrom: sf.now},
		{Code: "OK10", DiscountPercent: 0, ValidFrom: sf.now},
		{Code: "OK10", DiscountPercent: 101, ValidFrom: sf.now},
		{Code: "OK10", DiscountPercent: 10},
	}
	for i, cmd := range cases {
		if _, err := sf.coupons.CreateCoupon(ctx, cmd); !errors.Is(err, ErrCouponInvalidInput) {
			t.Fatalf("case %d: expected ErrCouponInvalidInput, got %v", i, err)
		}
	}
	if _, err := sf.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "save10", DiscountPercent: 5, ValidFrom: sf.now}); !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected duplicate code to conflict, got %v", err)
	}
}

func TestCouponUsageLimitAndOncePerUser(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	coupon, err := sf.coupons.CreateCoupon(ctx, UpsertCouponCommand{Code: "DUO2", DiscountPercent: 5, ValidFrom: sf.now, UsageLimit: 2, Active: true})
	if err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}

	redeem := func(userID, orderID string) error {
		return sf.store.RunInTx(ctx, func(txCtx context.Context) error {
			return sf.coupons.Redeem(txCtx, RedeemCouponCommand{CouponID: coupon.ID, UserID: userID, OrderID: orderID, Status: domain.CouponUsageRedeemed})
		})
	}
	if err := redeem("u1", "o1"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	if err := redeem("u1", "o2"); !errors.Is(err, ErrCouponAlreadyUsed) {
		t.Fatalf("expected ErrCouponAlreadyUsed, got %v", err)
	}
	if err := redeem("u2", "o3"); err != nil {
		t.Fatalf("second user: %v", err)
	}
	if err := redeem("u3", "o4"); !errors.Is(err, ErrCouponLimitReached) {
		t.Fatalf("expected ErrCouponLimitReached, got %v", err)
	}
	stored, _ := sf.store.Coupons().FindByID(ctx, coupon.ID)
	if stored.UsedCount != 2 {
		t.Fatalf("expected used count 2, got %d", stored.UsedCount)
	}
	if _, err := sf.store.Coupons().FindUsage(ctx, coupon.ID, "u3"); err == nil {
		t.Fatalf("expected the rejected redemption to leave no usage")
	}
}
