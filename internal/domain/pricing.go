package domain

import (
	"strings"
	"time"
)

// ApplyPercent returns the reduction of percent applied to amount, rounded
// half-up to the minor unit.
func ApplyPercent(amount int64, percent int) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	if percent > 100 {
		percent = 100
	}
	return (amount*int64(percent) + 50) / 100
}

// AppliedOffer is the outcome of offer resolution for one unit.
type AppliedOffer struct {
	Price   int64
	Percent int
	Kind    OfferKind
}

// Savings is the per-unit reduction given by the offer.
func (a AppliedOffer) Savings(base int64) int64 {
	return base - a.Price
}

// ProductOfferApplies reports whether a product offer counts at now: it must
// be active and inside its validity window.
func ProductOfferApplies(offer *Offer, now time.Time) bool {
	if offer == nil || !offer.Active || offer.Percent <= 0 {
		return false
	}
	if !offer.ValidFrom.IsZero() && now.Before(offer.ValidFrom) {
		return false
	}
	return offer.ValidUntil == nil || !now.After(*offer.ValidUntil)
}

// BrandOfferApplies reports whether a brand offer counts at now: it must be
// active and not past its end date.
func BrandOfferApplies(offer *Offer, now time.Time) bool {
	if offer == nil || !offer.Active || offer.Percent <= 0 {
		return false
	}
	return offer.ValidUntil == nil || !now.After(*offer.ValidUntil)
}

// ResolveOffer picks the better of a product and a brand offer for base.
// The product offer wins ties.
func ResolveOffer(productOffer, brandOffer *Offer, base int64, now time.Time) AppliedOffer {
	best := AppliedOffer{Price: base}
	if ProductOfferApplies(productOffer, now) {
		best.Percent = productOffer.Percent
		best.Kind = OfferKindProduct
	}
	if BrandOfferApplies(brandOffer, now) && brandOffer.Percent > best.Percent {
		best.Percent = brandOffer.Percent
		best.Kind = OfferKindBrand
	}
	if best.Kind != OfferKindNone {
		best.Price = base - ApplyPercent(base, best.Percent)
	}
	return best
}

// DeliveryRules configures the delivery charge.
type DeliveryRules struct {
	FreeThreshold int64
	Charge        int64
}

// DeliveryCharge returns the charge for a subtotal already reduced by offers.
func (r DeliveryRules) DeliveryCharge(subtotalAfterOffers int64) int64 {
	if subtotalAfterOffers <= 0 || subtotalAfterOffers >= r.FreeThreshold {
		return 0
	}
	return r.Charge
}

// CouponDiscount computes the discount of c on base, capped by MaxDiscount.
func CouponDiscount(c Coupon, base int64) int64 {
	discount := ApplyPercent(base, c.DiscountPercent)
	if c.MaxDiscount > 0 && discount > c.MaxDiscount {
		discount = c.MaxDiscount
	}
	if discount > base {
		discount = base
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// NormalizeCouponCode upper-cases and trims a coupon code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Recalculate derives the line subtotal.
func (i *OrderItem) Recalculate() {
	i.Subtotal = i.Price * int64(i.Quantity)
}

// Active reports whether the line still counts towards the order.
func (i OrderItem) Active() bool {
	return i.Status == ItemStatusActive || i.Status == ""
}

// Recalculate recomputes item subtotals and order totals from the active
// items. The delivery charge is dropped once no item is active and the coupon
// discount is clamped so the total never goes negative.
func (o *Order) Recalculate() {
	var subtotal, discount int64
	active := 0
	for i := range o.Items {
		item := &o.Items[i]
		item.Recalculate()
		if !item.Active() {
			continue
		}
		active++
		subtotal += item.ListPrice * int64(item.Quantity)
		discount += (item.ListPrice - item.Price) * int64(item.Quantity)
	}
	o.Subtotal = subtotal
	o.DiscountAmount = discount
	if active == 0 {
		o.DeliveryCharge = 0
	}
	ceiling := o.Subtotal - o.DiscountAmount + o.DeliveryCharge
	if o.CouponDiscount > ceiling {
		o.CouponDiscount = ceiling
	}
	if o.CouponDiscount < 0 {
		o.CouponDiscount = 0
	}
	o.Total = o.Subtotal + o.DeliveryCharge - o.DiscountAmount - o.CouponDiscount
}

// ActiveItems returns the lines that have not been cancelled or returned.
func (o Order) ActiveItems() []OrderItem {
	out := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		if item.Active() {
			out = append(out, item)
		}
	}
	return out
}

// ItemIndex returns the index of the item with id, or -1.
func (o Order) ItemIndex(id string) int {
	for i, item := range o.Items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

// RefundableRemaining is the collected amount not yet refunded.
func (o Order) RefundableRemaining() int64 {
	if !o.Paid {
		return 0
	}
	remaining := o.AmountPaid - o.RefundedAmount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Cancellable reports whether the customer may still cancel the order.
func (o Order) Cancellable() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// ReturnDeadline returns the last moment a return may be requested.
func (o Order) ReturnDeadline(window time.Duration) (time.Time, bool) {
	if o.Status != OrderStatusDelivered || o.DeliveredAt == nil {
		return time.Time{}, false
	}
	return o.DeliveredAt.Add(window), true
}

// WithinReturnWindow reports whether now is inside the return window.
func (o Order) WithinReturnWindow(now time.Time, window time.Duration) bool {
	deadline, ok := o.ReturnDeadline(window)
	return ok && !now.After(deadline)
}

// ReturnDaysLeft counts the whole days left to request a return, rounded up.
func (o Order) ReturnDaysLeft(now time.Time, window time.Duration) int {
	deadline, ok := o.ReturnDeadline(window)
	if !ok || now.After(deadline) {
		return 0
	}
	left := deadline.Sub(now)
	days := int(left / (24 * time.Hour))
	if left%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// StockLines returns the stock taken by the given items.
func StockLines(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

var forwardTransitions = map[OrderStatus]OrderStatus{
	OrderStatusConfirmed:      OrderStatusShipped,
	OrderStatusShipped:        OrderStatusOutForDelivery,
	OrderStatusOutForDelivery: OrderStatusDelivered,
}

// CanTransition reports whether an admin may move an order from one status to
// the next. Only single forward steps are allowed.
func CanTransition(from, to OrderStatus) bool {
	next, ok := forwardTransitions[from]
	return ok && next == to
}

// StatusSteps lists the fulfilment steps shown to customers.
var StatusSteps = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// Add folds one order into the stats. Revenue counts paid orders; pending
// payments exclude cancelled orders.
func (s *OrderStats) Add(order Order) {
	if s.ByPaymentStatus == nil {
		s.ByPaymentStatus = map[PaymentStatus]int{}
	}
	s.TotalOrders++
	s.ByPaymentStatus[order.PaymentStatus]++
	if order.PaymentStatus == PaymentStatusPaid {
		s.Revenue += order.Total
	}
	if order.Status == OrderStatusDelivered {
		s.DeliveredCount++
	}
	if order.PaymentStatus == PaymentStatusPending && order.Status != OrderStatusCancelled {
		s.PendingPaymentAmount += order.Total
		s.PendingPaymentCount++
	}
}
