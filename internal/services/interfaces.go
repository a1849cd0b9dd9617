package services

import (
	"context"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/payments"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	OrderReturn       = domain.OrderReturn
	OrderStats        = domain.OrderStats
	Wallet            = domain.Wallet
	WalletTransaction = domain.WalletTransaction
	Coupon            = domain.Coupon
	PendingCoupon     = domain.PendingCoupon
	Address           = domain.Address
	Offer             = domain.Offer
	HealthReport      = domain.HealthReport
	OrderListFilter   = repositories.OrderListFilter
	CouponListFilter  = repositories.CouponListFilter
	ReturnListFilter  = repositories.ReturnListFilter
)

// CartService manages the per-user cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error)
	UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error)
	RemoveItem(ctx context.Context, userID, variantID string) (CartView, error)
	Clear(ctx context.Context, userID string) error
}

// CouponService validates, holds and redeems coupons and administers them.
type CouponService interface {
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (PendingCoupon, error)
	RemoveCoupon(ctx context.Context, userID string) error
	// ActiveCoupon returns nil when no unexpired coupon is applied.
	ActiveCoupon(ctx context.Context, userID string) (*PendingCoupon, error)
	// Revalidate re-runs the apply checks against the totals of an order about to be placed.
	Revalidate(ctx context.Context, userID, couponID string, cartSubtotal, deliveryCharge int64) (Coupon, int64, error)
	// Redeem, Finalize and Release must run inside the caller's unit of work.
	Redeem(ctx context.Context, cmd RedeemCouponCommand) error
	Finalize(ctx context.Context, order Order) error
	Release(ctx context.Context, order Order) error

	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
	CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error)
	ToggleCoupon(ctx context.Context, couponID string) (Coupon, error)
}

// CheckoutService places orders and drives online payments.
type CheckoutService interface {
	Summary(ctx context.Context, userID string) (CheckoutSummary, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error)
	RetryPayment(ctx context.Context, userID, orderID string) (PlacementResult, error)
	MarkPaymentFailed(ctx context.Context, cmd MarkPaymentFailedCommand) (Order, error)
	HandleWebhook(ctx context.Context, provider string, payload []byte) error
}

// OrderService encapsulates order reads, cancellation and admin transitions.
type OrderService interface {
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, cmd GetOrderCommand) (OrderDetail, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	CancelItem(ctx context.Context, cmd CancelItemCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Stats(ctx context.Context) (OrderStats, error)
	ExpireUnpaid(ctx context.Context, now time.Time) (ExpireUnpaidResult, error)
}

// ReturnService handles return requests and their review.
type ReturnService interface {
	RequestOrderReturn(ctx context.Context, cmd RequestReturnCommand) (OrderReturn, error)
	RequestItemReturn(ctx context.Context, cmd RequestReturnCommand) (OrderReturn, error)
	ApproveReturn(ctx context.Context, cmd ReviewReturnCommand) (OrderReturn, error)
	RejectReturn(ctx context.Context, cmd ReviewReturnCommand) (OrderReturn, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[OrderReturn], error)
	GetOrderReturns(ctx context.Context, userID, orderID string) ([]OrderReturn, error)
}

// WalletService owns the wallet ledger.
type WalletService interface {
	// GetWallet returns a zero balance wallet for users without one.
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	ListTransactions(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[WalletTransaction], error)
	// Post applies entries for one user with a single balance read and
	// write. It must run inside the caller's unit of work.
	Post(ctx context.Context, userID string, entries ...WalletEntry) ([]WalletTransaction, error)
}

// AddressService exposes the saved addresses of a user.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	SetDefault(ctx context.Context, userID, addressID string) ([]Address, error)
	// Resolve returns the address with addressID, or the default address when addressID is empty.
	Resolve(ctx context.Context, userID, addressID string) (Address, error)
}

// CatalogService manages offers.
type CatalogService interface {
	UpsertOffer(ctx context.Context, cmd UpsertOfferCommand) (Offer, error)
	DeleteOffer(ctx context.Context, kind domain.OfferKind, targetID string) error
}

// CounterService issues human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService exposes health information.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OperationRecorder counts order lifecycle operations and wallet movements.
type OperationRecorder interface {
	RecordOrderOperation(ctx context.Context, operation string, outcome string)
	RecordWalletMovement(ctx context.Context, kind domain.WalletTransactionType, reason domain.WalletReason, amount int64)
}

// PaymentGateway abstracts payments.Manager for easier testing.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, paymentCtx payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error)
	VerifyPayment(ctx context.Context, providerKey string, req payments.VerifyRequest) (payments.PaymentDetails, error)
	ParseWebhook(providerKey string, payload []byte) (payments.WebhookEvent, error)
	Has(providerKey string) bool
}

// CartLine is a priced cart line.
type CartLine struct {
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
	OfferKind    domain.OfferKind
	Subtotal     int64
	Stock        int
	InStock      bool
	Available    bool
}

// CartView is the priced cart shown to the customer. Subtotal is before offers.
type CartView struct {
	UserID         string
	Lines          []CartLine
	Subtotal       int64
	Savings        int64
	Total          int64
	DeliveryCharge int64
	ItemCount      int
	CanCheckout    bool
	UpdatedAt      time.Time
}

// CartAction selects how UpdateQuantity changes a line.
type CartAction string

const (
	CartActionIncrement CartAction = "increment"
	CartActionDecrement CartAction = "decrement"
)

// AddCartItemCommand adds a variant to the cart.
type AddCartItemCommand struct {
	UserID    string
	VariantID string
	Quantity  int
}

// UpdateCartItemCommand changes the quantity of a cart line, either by one
// step (Action) or to an absolute Quantity.
type UpdateCartItemCommand struct {
	UserID    string
	VariantID string
	Action    CartAction
	Quantity  int
}

// ApplyCouponCommand applies a coupon code to the user's cart.
type ApplyCouponCommand struct {
	UserID string
	Code   string
}

// RedeemCouponCommand records the use of a coupon by an order.
type RedeemCouponCommand struct {
	CouponID string
	UserID   string
	OrderID  string
	Status   domain.CouponUsageStatus
}

// UpsertCouponCommand creates or updates a coupon.
type UpsertCouponCommand struct {
	ID              string
	Code            string     `validate:"required,max=20,couponcode"`
	Description     string     `validate:"max=200"`
	DiscountPercent int        `validate:"min=1,max=100"`
	MinPurchase     int64      `validate:"min=0"`
	MaxDiscount     int64      `validate:"min=0"`
	ValidFrom       time.Time  `validate:"required"`
	ValidUntil      *time.Time `validate:"omitempty,gtfield=ValidFrom"`
	UsageLimit      int        `validate:"min=0"`
	Active          bool
}

// CheckoutSummary is what the checkout page needs before placing an order.
type CheckoutSummary struct {
	Cart           CartView
	Coupon         *PendingCoupon
	CouponDiscount int64
	Total          int64
	DefaultAddress *Address
	WalletBalance  int64
	CODAllowed     bool
}

// PlaceOrderCommand places the user's cart as an order.
type PlaceOrderCommand struct {
	UserID         string
	PaymentMethod  domain.PaymentMethod
	AddressID      string
	Gateway        string
	IdempotencyKey string
}

// PlacementResult is a placed order plus, for online payment, the gateway order.
type PlacementResult struct {
	Order   Order
	Gateway *payments.GatewayOrder
}

// ConfirmPaymentCommand carries the gateway checkout result.
type ConfirmPaymentCommand struct {
	UserID         string
	OrderID        string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// MarkPaymentFailedCommand records a client reported payment failure.
type MarkPaymentFailedCommand struct {
	UserID  string
	OrderID string
	Reason  string
}

// GetOrderCommand reads one order. Admin reads skip the ownership check.
type GetOrderCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

// OrderDetail is an order with customer facing eligibility flags.
type OrderDetail struct {
	Order          Order
	CanCancel      bool
	CanReturn      bool
	ReturnDaysLeft int
	// ReturnableItems lists item IDs that may still be returned individually.
	ReturnableItems []string
	Steps           []StatusStep
	Returns         []OrderReturn
}

// StatusStep is one fulfilment step for progress display.
type StatusStep struct {
	Status  OrderStatus
	Reached bool
	Current bool
}

// CancelOrderCommand cancels a whole order.
type CancelOrderCommand struct {
	UserID  string
	OrderID string
	Reason  string
}

// CancelItemCommand cancels one order item.
type CancelItemCommand struct {
	UserID  string
	OrderID string
	ItemID  string
	Reason  string
}

// OrderStatusTransitionCommand moves an order forward.
type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

// ExpireUnpaidResult reports an expiry sweep.
type ExpireUnpaidResult struct {
	Expired []string
	Failed  map[string]string
}

// RequestReturnCommand requests a return of an order, or of one item when ItemID is set.
type RequestReturnCommand struct {
	UserID      string
	OrderID     string
	ItemID      string
	Reason      string
	Description string
}

// ReviewReturnCommand approves or rejects a return.
type ReviewReturnCommand struct {
	ReturnID   string
	ReviewerID string
	Note       string
}

// WalletEntry is one movement posted to a wallet.
type WalletEntry struct {
	Type        domain.WalletTransactionType
	Amount      int64
	OrderID     string
	Reason      domain.WalletReason
	Description string
}

// UpsertOfferCommand sets the offer of a product or brand.
type UpsertOfferCommand struct {
	Kind       domain.OfferKind
	TargetID   string
	Percent    int `validate:"min=1,max=100"`
	Active     bool
	ValidFrom  time.Time
	ValidUntil *time.Time
}
