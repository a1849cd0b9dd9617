package repositories

import (
	"context"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Offers() OfferRepository
	Carts() CartRepository
	Addresses() AddressRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Returns() ReturnRepository
	Wallets() WalletRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary.
// Implementations backed by Firestore apply writes when fn returns, so a
// repository call must not read a document written earlier in the same fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository reads catalog entries and owns variant stock.
type CatalogRepository interface {
	GetVariant(ctx context.Context, variantID string) (domain.VariantDetail, error)
	// GetVariants returns details keyed by variant ID; unknown IDs are omitted.
	GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.VariantDetail, error)
	// DecrementStock takes every line or nothing. A short line yields a
	// *StockError with code StockErrorInsufficient naming the variant.
	DecrementStock(ctx context.Context, lines []domain.StockLine) error
	RestoreStock(ctx context.Context, lines []domain.StockLine) error
}

// OfferRepository stores product and brand offers.
type OfferRepository interface {
	// Find returns offers of kind keyed by target ID; targets without an offer are omitted.
	Find(ctx context.Context, kind domain.OfferKind, targetIDs []string) (map[string]domain.Offer, error)
	Upsert(ctx context.Context, offer domain.Offer) error
	Delete(ctx context.Context, kind domain.OfferKind, targetID string) error
}

// CartRepository persists carts keyed by user.
type CartRepository interface {
	// Get returns an empty cart when the user has none.
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Save(ctx context.Context, cart domain.Cart) error
	Clear(ctx context.Context, userID string) error
}

// AddressRepository reads user addresses.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	Save(ctx context.Context, address domain.Address) error
	SetDefault(ctx context.Context, userID, addressID string) error
}

// CouponListFilter narrows admin coupon listings.
type CouponListFilter struct {
	Search     string
	ActiveOnly *bool
	Pagination domain.Pagination
}

// CouponRepository persists coupons and their per-user usages.
type CouponRepository interface {
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	// IncrementUsage bumps UsedCount unless the usage limit is reached, in
	// which case it returns a conflict error.
	IncrementUsage(ctx context.Context, couponID string) error
	DecrementUsage(ctx context.Context, couponID string) error

	FindUsage(ctx context.Context, couponID, userID string) (domain.CouponUsage, error)
	// InsertUsage fails with a conflict when the user already used the coupon.
	InsertUsage(ctx context.Context, usage domain.CouponUsage) error
	UpdateUsage(ctx context.Context, usage domain.CouponUsage) error
	DeleteUsage(ctx context.Context, couponID, userID string) error
}

// PendingCouponStore keeps applied-but-unredeemed coupons with an expiry.
// It is wired separately from the Registry: Redis backs it whenever an
// address is configured, regardless of the persistence driver.
type PendingCouponStore interface {
	Get(ctx context.Context, userID, cartID string) (domain.PendingCoupon, error)
	Put(ctx context.Context, pending domain.PendingCoupon) error
	Delete(ctx context.Context, userID, cartID string) error
}

// DateRange bounds a listing by creation time. Zero values are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Search     string
	Created    DateRange
	Pagination domain.Pagination
}

// OrderRepository persists orders and their embedded items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListUnpaidOnline returns online orders still pending payment created before cutoff.
	ListUnpaidOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
}

// ReturnListFilter narrows admin return listings.
type ReturnListFilter struct {
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}

// ReturnRepository persists return requests.
type ReturnRepository interface {
	Insert(ctx context.Context, ret domain.OrderReturn) error
	Update(ctx context.Context, ret domain.OrderReturn) error
	FindByID(ctx context.Context, returnID string) (domain.OrderReturn, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderReturn, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.OrderReturn], error)
}

// WalletRepository persists wallet balances and their ledger.
type WalletRepository interface {
	// Get returns a not-found error when the user has no wallet yet.
	Get(ctx context.Context, userID string) (domain.Wallet, error)
	Save(ctx context.Context, wallet domain.Wallet) error
	AppendTransaction(ctx context.Context, txn domain.WalletTransaction) error
	ListTransactions(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.WalletTransaction], error)
}

// CounterRepository issues monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
