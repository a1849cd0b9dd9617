package repositories

import (
	"strings"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

// Matches applies the filter to a single order. Search matches the order
// number or a product name by substring, or the owning user exactly.
func (f OrderListFilter) Matches(order domain.Order) bool {
	if f.UserID != "" && order.UserID != f.UserID {
		return false
	}
	if len(f.Status) > 0 {
		matched := false
		for _, status := range f.Status {
			if order.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if !f.Created.From.IsZero() && order.CreatedAt.Before(f.Created.From) {
		return false
	}
	if !f.Created.To.IsZero() && order.CreatedAt.After(f.Created.To) {
		return false
	}
	return f.matchesSearch(order)
}

func (f OrderListFilter) matchesSearch(order domain.Order) bool {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	if strings.Contains(strings.ToLower(order.OrderNumber), search) || strings.ToLower(order.UserID) == search {
		return true
	}
	for _, item := range order.Items {
		if strings.Contains(strings.ToLower(item.ProductName), search) {
			return true
		}
	}
	return false
}

// Matches applies the filter to a single coupon.
func (f CouponListFilter) Matches(coupon domain.Coupon) bool {
	search := domain.NormalizeCouponCode(f.Search)
	if search != "" && !strings.Contains(coupon.Code, search) {
		return false
	}
	return f.ActiveOnly == nil || coupon.Active == *f.ActiveOnly
}

// Matches applies the filter to a single return.
func (f ReturnListFilter) Matches(ret domain.OrderReturn) bool {
	if len(f.Status) == 0 {
		return true
	}
	for _, status := range f.Status {
		if ret.Status == status {
			return true
		}
	}
	return false
}
