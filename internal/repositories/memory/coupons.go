package memory

import (
	"context"
	"errors"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type couponRepo struct{ s *Store }

func (r couponRepo) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	defer r.s.lock(ctx)()
	coupon, ok := r.s.state.coupons[couponID]
	if !ok {
		return domain.Coupon{}, repositories.NewNotFound("coupons.find_by_id")
	}
	return coupon, nil
}

func (r couponRepo) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	defer r.s.lock(ctx)()
	code = domain.NormalizeCouponCode(code)
	for _, coupon := range r.s.state.coupons {
		if coupon.Code == code {
			return coupon, nil
		}
	}
	return domain.Coupon{}, repositories.NewNotFound("coupons.find_by_code")
}

func (r couponRepo) codeTaken(code, exceptID string) bool {
	for id, coupon := range r.s.state.coupons {
		if id != exceptID && coupon.Code == code {
			return true
		}
	}
	return false
}

func (r couponRepo) Insert(ctx context.Context, coupon domain.Coupon) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.coupons[coupon.ID]; exists || r.codeTaken(coupon.Code, "") {
		return repositories.NewConflict("coupons.insert", errors.New("coupon code already exists"))
	}
	r.s.state.coupons[coupon.ID] = coupon
	return nil
}

func (r couponRepo) Update(ctx context.Context, coupon domain.Coupon) error {
	defer r.s.lock(ctx)()
	if _, exists := r.s.state.coupons[coupon.ID]; !exists {
		return repositories.NewNotFound("coupons.update")
	}
	if r.codeTaken(coupon.Code, coupon.ID) {
		return repositories.NewConflict("coupons.update", errors.New("coupon code already exists"))
	}
	r.s.state.coupons[coupon.ID] = coupon
	return nil
}

func (r couponRepo) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	defer r.s.lock(ctx)()
	var items []domain.Coupon
	for _, coupon := range r.s.state.coupons {
		if filter.Matches(coupon) {
			items = append(items, coupon)
		}
	}
	key := func(c domain.Coupon) (time.Time, string) { return c.CreatedAt, c.ID }
	pagination.SortNewestFirst(items, key)
	page, next, err := pagination.Slice(items, filter.Pagination.PageSize, filter.Pagination.PageToken, key)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	return domain.CursorPage[domain.Coupon]{Items: page, NextPageToken: next}, nil
}

func (r couponRepo) IncrementUsage(ctx context.Context, couponID string) error {
	defer r.s.lock(ctx)()
	coupon, ok := r.s.state.coupons[couponID]
	if !ok {
		return repositories.NewNotFound("coupons.increment_usage")
	}
	if coupon.Exhausted() {
		return repositories.NewConflict("coupons.increment_usage", errors.New("usage limit reached"))
	}
	coupon.UsedCount++
	coupon.UpdatedAt = r.s.now().UTC()
	r.s.state.coupons[couponID] = coupon
	return nil
}

func (r couponRepo) DecrementUsage(ctx context.Context, couponID string) error {
	defer r.s.lock(ctx)()
	coupon, ok := r.s.state.coupons[couponID]
	if !ok {
		return repositories.NewNotFound("coupons.decrement_usage")
	}
	if coupon.UsedCount > 0 {
		coupon.UsedCount--
	}
	coupon.UpdatedAt = r.s.now().UTC()
	r.s.state.coupons[couponID] = coupon
	return nil
}

func (r couponRepo) FindUsage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	defer r.s.lock(ctx)()
	usage, ok := r.s.state.usages[usageKey{couponID, userID}]
	if !ok {
		return domain.CouponUsage{}, repositories.NewNotFound("coupons.find_usage")
	}
	return usage, nil
}

func (r couponRepo) InsertUsage(ctx context.Context, usage domain.CouponUsage) error {
	defer r.s.lock(ctx)()
	key := usageKey{usage.CouponID, usage.UserID}
	if _, exists := r.s.state.usages[key]; exists {
		return repositories.NewConflict("coupons.insert_usage", errors.New("coupon already used by user"))
	}
	r.s.state.usages[key] = usage
	return nil
}

func (r couponRepo) UpdateUsage(ctx context.Context, usage domain.CouponUsage) error {
	defer r.s.lock(ctx)()
	key := usageKey{usage.CouponID, usage.UserID}
	if _, exists := r.s.state.usages[key]; !exists {
		return repositories.NewNotFound("coupons.update_usage")
	}
	r.s.state.usages[key] = usage
	return nil
}

func (r couponRepo) DeleteUsage(ctx context.Context, couponID, userID string) error {
	defer r.s.lock(ctx)()
	delete(r.s.state.usages, usageKey{couponID, userID})
	return nil
}
