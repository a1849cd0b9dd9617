package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/config"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

var now = time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)

func newClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestPendingCouponStoreExpires(t *testing.T) {
	client, mr := newClient(t)
	store := NewPendingCouponStore(client, func() time.Time { return now })
	ctx := context.Background()

	pending := domain.PendingCoupon{
		UserID:          "u1",
		CartID:          "u1",
		CouponID:        "c1",
		Code:            "SAVE10",
		DiscountPercent: 10,
		Discount:        4900,
		AppliedAt:       now,
		ExpiresAt:       now.Add(30 * time.Minute),
	}
	if err := store.Put(ctx, pending); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "u1", "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Code != "SAVE10" || got.Discount != 4900 || !got.ExpiresAt.Equal(pending.ExpiresAt) {
		t.Fatalf("unexpected record %+v", got)
	}
	if ttl := mr.TTL(pendingCouponKey("u1", "u1")); ttl != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", ttl)
	}

	mr.FastForward(31 * time.Minute)
	if _, err := store.Get(ctx, "u1", "u1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected expired coupon, got %v", err)
	}
}

func TestPendingCouponStoreRejectsExpiredRecord(t *testing.T) {
	client, _ := newClient(t)
	store := NewPendingCouponStore(client, func() time.Time { return now })
	err := store.Put(context.Background(), domain.PendingCoupon{UserID: "u1", CartID: "u1", ExpiresAt: now.Add(-time.Second)})
	if err == nil {
		t.Fatalf("expected error for expired record")
	}
}

func TestPendingCouponStoreDelete(t *testing.T) {
	client, _ := newClient(t)
	store := NewPendingCouponStore(client, func() time.Time { return now })
	ctx := context.Background()
	if err := store.Put(ctx, domain.PendingCoupon{UserID: "u1", CartID: "u1", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "u1", "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "u1", "u1"); err != nil {
		t.Fatalf("Delete of missing key: %v", err)
	}
	if _, err := store.Get(ctx, "u1", "u1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNonceStoreAcceptsOnce(t *testing.T) {
	client, mr := newClient(t)
	store := NewNonceStore(client, func() time.Time { return now })
	ctx := context.Background()

	ok, err := store.UseNonce(ctx, "razorpay", "n-1", now.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected first use accepted, got %v %v", ok, err)
	}
	ok, err = store.UseNonce(ctx, "razorpay", "n-1", now.Add(10*time.Minute))
	if err != nil || ok {
		t.Fatalf("expected replay rejected, got %v %v", ok, err)
	}
	ok, err = store.UseNonce(ctx, "stripe", "n-1", now.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected nonce scoped per provider, got %v %v", ok, err)
	}

	mr.FastForward(11 * time.Minute)
	ok, err = store.UseNonce(ctx, "razorpay", "n-1", now.Add(10*time.Minute))
	if err != nil || !ok {
		t.Fatalf("expected nonce reusable after expiry, got %v %v", ok, err)
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(context.Background(), config.RedisConfig{}); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	client, mr := newClient(t)
	limiter := NewAttemptLimiter(client, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "coupon:u1")
		if err != nil || !allowed {
			t.Fatalf("attempt %d: allowed=%v err=%v", i+1, allowed, err)
		}
	}
	allowed, err := limiter.Allow(ctx, "coupon:u1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("expected third attempt to be refused")
	}
	if allowed, _ := limiter.Allow(ctx, "coupon:u2"); !allowed {
		t.Fatal("expected other users to be unaffected")
	}

	mr.FastForward(61 * time.Second)
	if allowed, _ := limiter.Allow(ctx, "coupon:u1"); !allowed {
		t.Fatal("expected a fresh window after expiry")
	}
}
