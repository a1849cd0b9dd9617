// Package memory implements the repositories on process memory. It backs
// local runs and service tests; a unit of work snapshots the whole state and
// restores it when the callback fails.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type offerKey struct {
	kind     domain.OfferKind
	targetID string
}

type usageKey struct {
	couponID string
	userID   string
}

type state struct {
	categories map[string]domain.Category
	brands     map[string]domain.Brand
	products   map[string]domain.Product
	variants   map[string]domain.Variant
	offers     map[offerKey]domain.Offer
	carts      map[string]domain.Cart
	addresses  map[string][]domain.Address
	coupons    map[string]domain.Coupon
	usages     map[usageKey]domain.CouponUsage
	orders     map[string]domain.Order
	returns    map[string]domain.OrderReturn
	wallets    map[string]domain.Wallet
	walletTxns map[string][]domain.WalletTransaction
	counters   map[string]int64
}

func newState() state {
	return state{
		categories: map[string]domain.Category{},
		brands:     map[string]domain.Brand{},
		products:   map[string]domain.Product{},
		variants:   map[string]domain.Variant{},
		offers:     map[offerKey]domain.Offer{},
		carts:      map[string]domain.Cart{},
		addresses:  map[string][]domain.Address{},
		coupons:    map[string]domain.Coupon{},
		usages:     map[usageKey]domain.CouponUsage{},
		orders:     map[string]domain.Order{},
		returns:    map[string]domain.OrderReturn{},
		wallets:    map[string]domain.Wallet{},
		walletTxns: map[string][]domain.WalletTransaction{},
		counters:   map[string]int64{},
	}
}

func (s state) clone() state {
	out := newState()
	copyMap(out.categories, s.categories)
	copyMap(out.brands, s.brands)
	copyMap(out.products, s.products)
	copyMap(out.variants, s.variants)
	copyMap(out.offers, s.offers)
	copyMap(out.coupons, s.coupons)
	copyMap(out.usages, s.usages)
	copyMap(out.returns, s.returns)
	copyMap(out.wallets, s.wallets)
	copyMap(out.counters, s.counters)
	for k, v := range s.carts {
		out.carts[k] = cloneCart(v)
	}
	for k, v := range s.addresses {
		out.addresses[k] = append([]domain.Address(nil), v...)
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.walletTxns {
		out.walletTxns[k] = append([]domain.WalletTransaction(nil), v...)
	}
	return out
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	return order
}

type txKey struct{}

// Store holds every collection and implements repositories.Registry.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSeed loads catalog and account fixtures.
func WithSeed(seed Seed) Option {
	return func(s *Store) { s.apply(seed) }
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: newState(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// lock takes the store lock unless ctx already runs inside this store's unit of work.
func (s *Store) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx implements repositories.UnitOfWork. Units of work are serialised.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return repositories.RunWithCommitHooks(ctx, s.runInTx, fn)
}

func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(txKey{}).(*Store); owner == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		return err
	}
	committed = true
	return nil
}

// Close implements repositories.Registry.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Catalog() repositories.CatalogRepository { return catalogRepo{s} }
func (s *Store) Offers() repositories.OfferRepository    { return offerRepo{s} }
func (s *Store) Carts() repositories.CartRepository      { return cartRepo{s} }
func (s *Store) Addresses() repositories.AddressRepository {
	return addressRepo{s}
}
func (s *Store) Coupons() repositories.CouponRepository   { return couponRepo{s} }
func (s *Store) Orders() repositories.OrderRepository     { return orderRepo{s} }
func (s *Store) Returns() repositories.ReturnRepository   { return returnRepo{s} }
func (s *Store) Wallets() repositories.WalletRepository   { return walletRepo{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

// Health reports the in-process store as always available.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:     "memory",
		Critical: true,
		Check:    func(context.Context) error { return nil },
	}})
	return repo
}

var _ repositories.Registry = (*Store)(nil)

// Seed lists fixtures loaded into a fresh store.
type Seed struct {
	Categories []domain.Category
	Brands     []domain.Brand
	Products   []domain.Product
	Variants   []domain.Variant
	Offers     []domain.Offer
	Coupons    []domain.Coupon
	Addresses  []domain.Address
}

// LoadSeedFile reads a JSON encoded Seed.
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("memory: read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("memory: decode seed %s: %w", path, err)
	}
	return seed, nil
}

func (s *Store) apply(seed Seed) {
	for _, c := range seed.Categories {
		s.state.categories[c.ID] = c
	}
	for _, b := range seed.Brands {
		s.state.brands[b.ID] = b
	}
	for _, p := range seed.Products {
		s.state.products[p.ID] = p
	}
	for _, v := range seed.Variants {
		s.state.variants[v.ID] = v
	}
	for _, o := range seed.Offers {
		s.state.offers[offerKey{o.Kind, o.TargetID}] = o
	}
	for _, c := range seed.Coupons {
		c.Code = domain.NormalizeCouponCode(c.Code)
		s.state.coupons[c.ID] = c
	}
	for _, a := range seed.Addresses {
		s.state.addresses[a.UserID] = append(s.state.addresses[a.UserID], a)
	}
}
