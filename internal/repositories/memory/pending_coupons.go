package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

// PendingCouponStore keeps pending coupons in memory until their ExpiresAt.
type PendingCouponStore struct {
	mu      sync.Mutex
	records map[string]domain.PendingCoupon
	now     func() time.Time
}

// NewPendingCouponStore constructs an empty store. A nil clock uses time.Now.
func NewPendingCouponStore(clock func() time.Time) *PendingCouponStore {
	if clock == nil {
		clock = time.Now
	}
	return &PendingCouponStore{records: map[string]domain.PendingCoupon{}, now: clock}
}

func pendingKey(userID, cartID string) string { return userID + "|" + cartID }

func (s *PendingCouponStore) Get(_ context.Context, userID, cartID string) (domain.PendingCoupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(userID, cartID)
	record, ok := s.records[key]
	if !ok {
		return domain.PendingCoupon{}, repositories.NewNotFound("pending_coupons.get")
	}
	if !record.ExpiresAt.IsZero() && !s.now().Before(record.ExpiresAt) {
		delete(s.records, key)
		return domain.PendingCoupon{}, repositories.NewNotFound("pending_coupons.get")
	}
	return record, nil
}

func (s *PendingCouponStore) Put(_ context.Context, pending domain.PendingCoupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pendingKey(pending.UserID, pending.CartID)] = pending
	return nil
}

func (s *PendingCouponStore) Delete(_ context.Context, userID, cartID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, pendingKey(userID, cartID))
	return nil
}

var _ repositories.PendingCouponStore = (*PendingCouponStore)(nil)
