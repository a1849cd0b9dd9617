package services

import (
	"context"
	"errors"
	"testing"
)

func TestCartAddItemMergesAndChecksStock(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()

	view, err := sf.carts.AddItem(ctx, AddCartItemCommand{UserID: shopper, VariantID: "max-gold"})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if view.ItemCount != 1 || view.Total != 45000 || view.DeliveryCharge != 4000 || !view.CanCheckout {
		t.Fatalf("unexpected cart view %+v", view)
	}
	view, err = sf.carts.AddItem(ctx, AddCartItemCommand{UserID: shopper, VariantID: "max-gold"})
	if err != nil {
		t.Fatalf("AddItem again: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 2 || view.DeliveryCharge != 0 {
		t.Fatalf("expected merged line without delivery, got %+v", view)
	}
	if _, err := sf.carts.AddItem(ctx, AddCartItemCommand{UserID: shopper, VariantID: "max-gold"}); !errors.Is(err, ErrCartQuantityExceedsStock) {
		t.Fatalf("expected ErrCartQuantityExceedsStock, got %v", err)
	}
	if _, err := sf.carts.AddItem(ctx, AddCartItemCommand{UserID: shopper, VariantID: "nope"}); !errors.Is(err, ErrCartVariantNotFound) {
		t.Fatalf("expected ErrCartVariantNotFound, got %v", err)
	}
	if _, err := sf.carts.AddItem(ctx, AddCartItemCommand{UserID: shopper, VariantID: "lite-black", Quantity: -1}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartUpdateQuantity(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	sf.addToCart(shopper, "lite-black", 1)

	view, err := sf.carts.UpdateQuantity(ctx, UpdateCartItemCommand{UserID: shopper, VariantID: "lite-black", Action: CartActionIncrement})
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if view.Lines[0].Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", view.Lines[0].Quantity)
	}
	if _, err := sf.carts.UpdateQuantity(ctx, UpdateCartItemCommand{UserID: shopper, VariantID: "lite-black", Quantity: 11}); !errors.Is(err, ErrCartQuantityExceedsStock) {
		t.Fatalf("expected ErrCartQuantityExceedsStock, got %v", err)
	}
	if _, err := sf.carts.UpdateQuantity(ctx, UpdateCartItemCommand{UserID: shopper, VariantID: "lite-black", Action: CartActionDecrement}); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if _, err := sf.carts.UpdateQuantity(ctx, UpdateCartItemCommand{UserID: shopper, VariantID: "lite-black", Action: CartActionDecrement}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected decrement below one to fail, got %v", err)
	}
	if _, err := sf.carts.UpdateQuantity(ctx, UpdateCartItemCommand{UserID: shopper, VariantID: "pro-blue", Quantity: 1}); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartChangesDropAppliedCoupon(t *testing.T) {
	sf := newStorefront(t)
	ctx := context.Background()
	sf.addToCart(shopper, "pro-blue", 1)
	if _, err := sf.coupons.ApplyCoupon(ctx, ApplyCouponCommand{UserID: shopper, Code: "SAVE10"}); err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}

	if _, err := sf.carts.RemoveItem(ctx, shopper, "pro-blue"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	active, err := sf.coupons.ActiveCoupon(ctx, shopper)
	if err != nil {
		t.Fatalf("ActiveCoupon: %v", err)
	}
	if active != nil {
		t.Fatalf("expected coupon dropped after cart change, got %+v", active)
	}
}
