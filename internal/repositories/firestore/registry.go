package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	categoriesCollection    = "categories"
	brandsCollection        = "brands"
	productsCollection      = "products"
	variantsCollection      = "variants"
	productOffersCollection = "productOffers"
	brandOffersCollection   = "brandOffers"
	cartsCollection         = "carts"
	couponsCollection       = "coupons"
	couponCodesCollection   = "couponCodes"
	couponUsagesCollection  = "couponUsages"
	ordersCollection        = "orders"
	returnsCollection       = "returns"
	walletsCollection       = "wallets"
	walletTxnsCollection    = "transactions"
	countersCollection      = "counters"
	addressCollectionFormat = "users/%s/addresses"
)

// Registry wires every Firestore repository to a shared provider.
type Registry struct {
	provider *pfirestore.Provider
	health   repositories.HealthRepository
	now      func() time.Time
}

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithHealthChecks adds readiness probes for other dependencies such as Redis.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(r *Registry) {
		all := append([]repositories.DependencyCheck{{Name: "firestore", Critical: true, Check: r.provider.Ping}}, checks...)
		if repo, err := repositories.NewDependencyHealthRepository(all); err == nil {
			r.health = repo
		}
	}
}

// WithClock overrides the clock used for write timestamps.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRegistry constructs the Firestore registry.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	r := &Registry{provider: provider, now: time.Now}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{Name: "firestore", Critical: true, Check: provider.Ping}})
	if err != nil {
		return nil, err
	}
	r.health = health
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return repositories.RunWithCommitHooks(ctx, r.provider.RunInTx, fn)
}

func (r *Registry) Catalog() repositories.CatalogRepository   { return &CatalogRepository{r.base()} }
func (r *Registry) Offers() repositories.OfferRepository      { return &OfferRepository{r.base()} }
func (r *Registry) Carts() repositories.CartRepository        { return &CartRepository{r.base()} }
func (r *Registry) Addresses() repositories.AddressRepository { return &AddressRepository{r.base()} }
func (r *Registry) Coupons() repositories.CouponRepository    { return &CouponRepository{r.base()} }
func (r *Registry) Orders() repositories.OrderRepository      { return &OrderRepository{r.base()} }
func (r *Registry) Returns() repositories.ReturnRepository    { return &ReturnRepository{r.base()} }
func (r *Registry) Wallets() repositories.WalletRepository    { return &WalletRepository{r.base()} }
func (r *Registry) Counters() repositories.CounterRepository  { return &CounterRepository{r.base()} }
func (r *Registry) Health() repositories.HealthRepository     { return r.health }

func (r *Registry) base() base { return base{provider: r.provider, now: r.now} }

var _ repositories.Registry = (*Registry)(nil)

// base carries what every repository needs.
type base struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

func (b base) collection(ctx context.Context, path string) (*firestore.CollectionRef, error) {
	client, err := b.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(path), nil
}

func (b base) doc(ctx context.Context, collection, id string) (*firestore.DocumentRef, error) {
	coll, err := b.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (b base) timestamp() time.Time {
	return b.now().UTC()
}

// atomically runs fn in the caller's transaction or a new one.
func (b base) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.provider.RunInTx(ctx, fn)
}
