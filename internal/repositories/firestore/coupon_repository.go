package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type couponDocument struct {
	Code            string     `firestore:"code"`
	Description     string     `firestore:"description,omitempty"`
	DiscountPercent int        `firestore:"discountPercent"`
	MinPurchase     int64      `firestore:"minPurchase"`
	MaxDiscount     int64      `firestore:"maxDiscount,omitempty"`
	ValidFrom       time.Time  `firestore:"validFrom"`
	ValidUntil      *time.Time `firestore:"validUntil,omitempty"`
	UsageLimit      int        `firestore:"usageLimit"`
	UsedCount       int        `firestore:"usedCount"`
	Active          bool       `firestore:"active"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func newCouponDocument(c domain.Coupon) couponDocument {
	return couponDocument{
		Code:            domain.NormalizeCouponCode(c.Code),
		Description:     strings.TrimSpace(c.Description),
		DiscountPercent: c.DiscountPercent,
		MinPurchase:     c.MinPurchase,
		MaxDiscount:     c.MaxDiscount,
		ValidFrom:       c.ValidFrom.UTC(),
		ValidUntil:      c.ValidUntil,
		UsageLimit:      c.UsageLimit,
		UsedCount:       c.UsedCount,
		Active:          c.Active,
		CreatedAt:       c.CreatedAt.UTC(),
		UpdatedAt:       c.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:              id,
		Code:            d.Code,
		Description:     d.Description,
		DiscountPercent: d.DiscountPercent,
		MinPurchase:     d.MinPurchase,
		MaxDiscount:     d.MaxDiscount,
		ValidFrom:       d.ValidFrom,
		ValidUntil:      d.ValidUntil,
		UsageLimit:      d.UsageLimit,
		UsedCount:       d.UsedCount,
		Active:          d.Active,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// couponCodeDocument reserves a code so two coupons cannot share it.
type couponCodeDocument struct {
	CouponID string `firestore:"couponId"`
}

type couponUsageDocument struct {
	CouponID string    `firestore:"couponId"`
	UserID   string    `firestore:"userId"`
	OrderID  string    `firestore:"orderId"`
	Status   string    `firestore:"status"`
	UsedAt   time.Time `firestore:"usedAt"`
}

// CouponRepository persists coupons, their code index and per-user usages.
type CouponRepository struct {
	base
}

func usageID(couponID, userID string) string {
	return couponID + "_" + userID
}

// FindByID loads a coupon.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	ref, err := r.doc(ctx, couponsCollection, strings.TrimSpace(couponID))
	if err != nil {
		return domain.Coupon{}, err
	}
	doc, err := pfirestore.GetDoc[couponDocument](ctx, ref)
	if err != nil {
		return domain.Coupon{}, err
	}
	return doc.toDomain(ref.ID), nil
}

// FindByCode resolves a code through the code index.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return domain.Coupon{}, repositories.NewNotFound("coupons.find_by_code")
	}
	ref, err := r.doc(ctx, couponCodesCollection, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	index, err := pfirestore.GetDoc[couponCodeDocument](ctx, ref)
	if err != nil {
		return domain.Coupon{}, err
	}
	return r.FindByID(ctx, index.CouponID)
}

// Insert creates the coupon and claims its code.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	doc := newCouponDocument(coupon)
	return r.atomically(ctx, func(ctx context.Context) error {
		couponRef, err := r.doc(ctx, couponsCollection, coupon.ID)
		if err != nil {
			return err
		}
		codeRef, err := r.doc(ctx, couponCodesCollection, doc.Code)
		if err != nil {
			return err
		}
		if err := pfirestore.CreateDoc(ctx, codeRef, couponCodeDocument{CouponID: coupon.ID}); err != nil {
			return err
		}
		return pfirestore.CreateDoc(ctx, couponRef, doc)
	})
}

// Update overwrites the coupon, moving the code claim when the code changed.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	doc := newCouponDocument(coupon)
	return r.atomically(ctx, func(ctx context.Context) error {
		couponRef, err := r.doc(ctx, couponsCollection, coupon.ID)
		if err != nil {
			return err
		}
		current, err := pfirestore.GetDoc[couponDocument](ctx, couponRef)
		if err != nil {
			return err
		}
		if current.Code != doc.Code {
			oldRef, err := r.doc(ctx, couponCodesCollection, current.Code)
			if err != nil {
				return err
			}
			newRef, err := r.doc(ctx, couponCodesCollection, doc.Code)
			if err != nil {
				return err
			}
			if err := pfirestore.CreateDoc(ctx, newRef, couponCodeDocument{CouponID: coupon.ID}); err != nil {
				return err
			}
			if err := pfirestore.DeleteDoc(ctx, oldRef); err != nil {
				return err
			}
		}
		return pfirestore.SetDoc(ctx, couponRef, doc)
	})
}

// List returns coupons newest first. Code search is a substring match, so
// filtering happens after the query.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	coll, err := r.collection(ctx, couponsCollection)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	q := coll.OrderBy("createdAt", firestore.Desc)
	if filter.ActiveOnly != nil {
		q = coll.Where("active", "==", *filter.ActiveOnly).OrderBy("createdAt", firestore.Desc)
	}
	docs, err := pfirestore.Query[couponDocument](ctx, q)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}
	var items []domain.Coupon
	for _, doc := range docs {
		coupon := doc.Data.toDomain(doc.ID)
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

// IncrementUsage bumps UsedCount while it stays within UsageLimit.
func (r *CouponRepository) IncrementUsage(ctx context.Context, couponID string) error {
	return r.adjustUsage(ctx, couponID, 1)
}

// DecrementUsage gives one use back.
func (r *CouponRepository) DecrementUsage(ctx context.Context, couponID string) error {
	return r.adjustUsage(ctx, couponID, -1)
}

func (r *CouponRepository) adjustUsage(ctx context.Context, couponID string, delta int) error {
	return r.atomically(ctx, func(ctx context.Context) error {
		ref, err := r.doc(ctx, couponsCollection, couponID)
		if err != nil {
			return err
		}
		doc, err := pfirestore.GetDoc[couponDocument](ctx, ref)
		if err != nil {
			return err
		}
		if delta > 0 && doc.toDomain(couponID).Exhausted() {
			return repositories.NewConflict("coupons.increment_usage", errors.New("usage limit reached"))
		}
		used := doc.UsedCount + delta
		if used < 0 {
			used = 0
		}
		return pfirestore.UpdateDoc(ctx, ref, []firestore.Update{
			{Path: "usedCount", Value: used},
			{Path: "updatedAt", Value: r.timestamp()},
		})
	})
}

// FindUsage loads the usage of a coupon by a user.
func (r *CouponRepository) FindUsage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error) {
	ref, err := r.doc(ctx, couponUsagesCollection, usageID(couponID, userID))
	if err != nil {
		return domain.CouponUsage{}, err
	}
	doc, err := pfirestore.GetDoc[couponUsageDocument](ctx, ref)
	if err != nil {
		return domain.CouponUsage{}, err
	}
	return domain.CouponUsage{
		CouponID: doc.CouponID,
		UserID:   doc.UserID,
		OrderID:  doc.OrderID,
		Status:   domain.CouponUsageStatus(doc.Status),
		UsedAt:   doc.UsedAt,
	}, nil
}

// InsertUsage creates the usage; the deterministic ID makes a second use a conflict.
func (r *CouponRepository) InsertUsage(ctx context.Context, usage domain.CouponUsage) error {
	ref, err := r.doc(ctx, couponUsagesCollection, usageID(usage.CouponID, usage.UserID))
	if err != nil {
		return err
	}
	return pfirestore.CreateDoc(ctx, ref, newUsageDocument(usage))
}

// UpdateUsage overwrites an existing usage.
func (r *CouponRepository) UpdateUsage(ctx context.Context, usage domain.CouponUsage) error {
	ref, err := r.doc(ctx, couponUsagesCollection, usageID(usage.CouponID, usage.UserID))
	if err != nil {
		return err
	}
	doc := newUsageDocument(usage)
	return pfirestore.UpdateDoc(ctx, ref, []firestore.Update{
		{Path: "orderId", Value: doc.OrderID},
		{Path: "status", Value: doc.Status},
		{Path: "usedAt", Value: doc.UsedAt},
	})
}

// DeleteUsage removes the usage so the user may apply the coupon again.
func (r *CouponRepository) DeleteUsage(ctx context.Context, couponID, userID string) error {
	ref, err := r.doc(ctx, couponUsagesCollection, usageID(couponID, userID))
	if err != nil {
		return err
	}
	return pfirestore.DeleteDoc(ctx, ref)
}

func newUsageDocument(usage domain.CouponUsage) couponUsageDocument {
	return couponUsageDocument{
		CouponID: usage.CouponID,
		UserID:   usage.UserID,
		OrderID:  usage.OrderID,
		Status:   string(usage.Status),
		UsedAt:   usage.UsedAt.UTC(),
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
