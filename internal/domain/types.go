package domain

import "time"

// Pagination captures cursor based pagination input.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage represents a paginated response.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the fulfilment lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusReturned       OrderStatus = "returned"
)

// PaymentStatus tracks whether money for an order has been collected.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how the customer chose to pay.
type PaymentMethod string

const (
	PaymentMethodCOD    PaymentMethod = "cod"
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodWallet PaymentMethod = "wallet"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodOnline, PaymentMethodWallet:
		return true
	}
	return false
}

// ItemStatus is the state of a single order line.
type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "active"
	ItemStatusCancelled ItemStatus = "cancelled"
	ItemStatusReturned  ItemStatus = "returned"
)

// Order is a placed order. Money fields are minor currency units.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Address          OrderAddress
	Items            []OrderItem
	Currency         string
	Subtotal         int64
	DiscountAmount   int64
	DeliveryCharge   int64
	CouponID         string
	CouponCode       string
	CouponDiscount   int64
	Total            int64
	PaymentMethod    PaymentMethod
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	Paid             bool
	AmountPaid       int64
	RefundedAmount   int64
	StockCommitted   bool
	Gateway          string
	GatewayOrderID   string
	GatewayPaymentID string
	CancelReason     string
	CanceledAt       *time.Time
	DeliveredAt      *time.Time
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderItem is a single order line with frozen pricing.
type OrderItem struct {
	ID           string
	VariantID    string
	ProductID    string
	ProductName  string
	BrandID      string
	ColorName    string
	ColorCode    string
	Quantity     int
	ListPrice    int64
	Price        int64
	OfferPercent int
	OfferKind    OfferKind
	Subtotal     int64
	Status       ItemStatus
	CanceledAt   *time.Time
	ReturnedAt   *time.Time
}

// OrderAddress is the delivery address snapshot stored with an order.
type OrderAddress struct {
	FullName   string
	Phone      string
	FlatHouse  string
	AreaStreet string
	Landmark   string
	TownCity   string
	State      string
	Pincode    string
}

// Address is a saved user address.
type Address struct {
	ID        string
	UserID    string
	IsDefault bool
	OrderAddress
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot copies the postal fields for an order.
func (a Address) Snapshot() OrderAddress {
	return a.OrderAddress
}

// ReturnStatus is the review state of a return request.
type ReturnStatus string

const (
	ReturnStatusPending  ReturnStatus = "pending"
	ReturnStatusApproved ReturnStatus = "approved"
	ReturnStatusRejected ReturnStatus = "rejected"
)

// OrderReturn is a return request for a whole order or, when ItemID is set, a single item.
type OrderReturn struct {
	ID           string
	OrderID      string
	OrderNumber  string
	UserID       string
	ItemID       string
	Reason       string
	Description  string
	RefundAmount int64
	Status       ReturnStatus
	ReviewerID   string
	ReviewNote   string
	RequestedAt  time.Time
	ReviewedAt   *time.Time
}

// IsItemReturn reports whether the return covers a single item.
func (r OrderReturn) IsItemReturn() bool {
	return r.ItemID != ""
}

// Wallet holds the store credit balance of a user.
type Wallet struct {
	UserID    string
	Balance   int64
	Currency  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletTransactionType distinguishes credits from debits.
type WalletTransactionType string

const (
	WalletCredit WalletTransactionType = "credit"
	WalletDebit  WalletTransactionType = "debit"
)

// WalletReason explains a wallet movement.
type WalletReason string

const (
	WalletReasonOrderCancel  WalletReason = "order_cancel"
	WalletReasonItemCancel   WalletReason = "item_cancel"
	WalletReasonOrderReturn  WalletReason = "order_return"
	WalletReasonItemReturn   WalletReason = "item_return"
	WalletReasonOrderPayment WalletReason = "order_payment"
)

// WalletTransaction is an append-only wallet ledger entry.
type WalletTransaction struct {
	ID           string
	UserID       string
	Type         WalletTransactionType
	Amount       int64
	BalanceAfter int64
	OrderID      string
	Reason       WalletReason
	Description  string
	CreatedAt    time.Time
}

// Signed returns the amount with the sign of the movement.
func (t WalletTransaction) Signed() int64 {
	if t.Type == WalletDebit {
		return -t.Amount
	}
	return t.Amount
}

// Coupon is a percentage discount code.
type Coupon struct {
	ID              string
	Code            string
	Description     string
	DiscountPercent int
	MinPurchase     int64
	MaxDiscount     int64
	ValidFrom       time.Time
	ValidUntil      *time.Time
	UsageLimit      int
	UsedCount       int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Started reports whether the coupon validity window has opened at now.
func (c Coupon) Started(now time.Time) bool {
	return c.ValidFrom.IsZero() || !now.Before(c.ValidFrom)
}

// Expired reports whether the coupon validity window has closed at now.
func (c Coupon) Expired(now time.Time) bool {
	return c.ValidUntil != nil && now.After(*c.ValidUntil)
}

// Exhausted reports whether the usage limit has been reached.
func (c Coupon) Exhausted() bool {
	return c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit
}

// CouponUsageStatus distinguishes held from final redemptions.
type CouponUsageStatus string

const (
	CouponUsageReserved CouponUsageStatus = "reserved"
	CouponUsageRedeemed CouponUsageStatus = "redeemed"
)

// CouponUsage records that a user used a coupon on an order.
type CouponUsage struct {
	CouponID string
	UserID   string
	OrderID  string
	Status   CouponUsageStatus
	UsedAt   time.Time
}

// PendingCoupon is a coupon applied to a cart but not yet redeemed.
type PendingCoupon struct {
	UserID          string
	CartID          string
	CouponID        string
	Code            string
	DiscountPercent int
	Discount        int64
	AppliedAt       time.Time
	ExpiresAt       time.Time
}

// Category groups products.
type Category struct {
	ID     string
	Name   string
	Listed bool
}

// Brand is a product brand.
type Brand struct {
	ID     string
	Name   string
	Listed bool
}

// Product is a catalog product; prices and stock live on variants.
type Product struct {
	ID         string
	Name       string
	BrandID    string
	CategoryID string
	Listed     bool
}

// Variant is a purchasable colour variant of a product.
type Variant struct {
	ID        string
	ProductID string
	ColorName string
	ColorCode string
	Price     int64
	Stock     int
	Listed    bool
}

// VariantDetail is a variant joined with its product, brand and category.
type VariantDetail struct {
	Variant  Variant
	Product  Product
	Brand    Brand
	Category Category
}

// Purchasable reports whether the variant and every parent is listed.
func (d VariantDetail) Purchasable() bool {
	return d.Variant.Listed && d.Product.Listed && d.Brand.Listed && d.Category.Listed
}

// StockLine is a quantity of one variant to take from or return to stock.
type StockLine struct {
	VariantID string
	Quantity  int
}

// OfferKind says where a price reduction came from.
type OfferKind string

const (
	OfferKindNone    OfferKind = ""
	OfferKindProduct OfferKind = "product"
	OfferKindBrand   OfferKind = "brand"
)

// Offer is a percentage reduction on a product or on every product of a brand.
type Offer struct {
	Kind       OfferKind
	TargetID   string
	Percent    int
	Active     bool
	ValidFrom  time.Time
	ValidUntil *time.Time
	UpdatedAt  time.Time
}

// Cart is the per-user shopping cart. The cart ID equals the user ID.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// ID returns the cart identifier.
func (c Cart) ID() string {
	return c.UserID
}

// CartItem is a cart line.
type CartItem struct {
	VariantID string
	Quantity  int
	AddedAt   time.Time
}

// OrderStats summarises orders for the admin dashboard.
type OrderStats struct {
	TotalOrders          int
	Revenue              int64
	DeliveredCount       int
	PendingPaymentAmount int64
	PendingPaymentCount  int
	ByPaymentStatus      map[PaymentStatus]int
}

// Health states reported by readiness checks.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth is the outcome of one readiness probe.
type DependencyHealth struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates readiness probes.
type HealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	Version     string
	GeneratedAt time.Time
}
