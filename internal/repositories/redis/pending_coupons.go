package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const pendingCouponPrefix = "pending_coupon:"

type pendingCouponRecord struct {
	UserID          string    `json:"user_id"`
	CartID          string    `json:"cart_id"`
	CouponID        string    `json:"coupon_id"`
	Code            string    `json:"code"`
	DiscountPercent int       `json:"discount_percent"`
	Discount        int64     `json:"discount"`
	AppliedAt       time.Time `json:"applied_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PendingCouponStore keeps pending coupons as JSON values that expire at ExpiresAt.
type PendingCouponStore struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// NewPendingCouponStore wraps client. A nil clock uses time.Now.
func NewPendingCouponStore(client goredis.UniversalClient, clock func() time.Time) *PendingCouponStore {
	if clock == nil {
		clock = time.Now
	}
	return &PendingCouponStore{client: client, now: clock}
}

func pendingCouponKey(userID, cartID string) string {
	return pendingCouponPrefix + userID + ":" + cartID
}

// Get loads the pending coupon of a cart.
func (s *PendingCouponStore) Get(ctx context.Context, userID, cartID string) (domain.PendingCoupon, error) {
	val, err := s.client.Get(ctx, pendingCouponKey(userID, cartID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return domain.PendingCoupon{}, repositories.NewNotFound("pending_coupons.get")
	}
	if err != nil {
		return domain.PendingCoupon{}, repositories.NewUnavailable("pending_coupons.get", err)
	}
	var record pendingCouponRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return domain.PendingCoupon{}, fmt.Errorf("pending coupon: decode: %w", err)
	}
	return domain.PendingCoupon(record), nil
}

// Put stores the pending coupon until its ExpiresAt.
func (s *PendingCouponStore) Put(ctx context.Context, pending domain.PendingCoupon) error {
	ttl := pending.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("pending coupon: already expired")
	}
	payload, err := json.Marshal(pendingCouponRecord(pending))
	if err != nil {
		return fmt.Errorf("pending coupon: encode: %w", err)
	}
	if err := s.client.Set(ctx, pendingCouponKey(pending.UserID, pending.CartID), payload, ttl).Err(); err != nil {
		return repositories.NewUnavailable("pending_coupons.put", err)
	}
	return nil
}

// Delete removes the pending coupon; a missing key is not an error.
func (s *PendingCouponStore) Delete(ctx context.Context, userID, cartID string) error {
	if err := s.client.Del(ctx, pendingCouponKey(userID, cartID)).Err(); err != nil {
		return repositories.NewUnavailable("pending_coupons.delete", err)
	}
	return nil
}

var _ repositories.PendingCouponStore = (*PendingCouponStore)(nil)
