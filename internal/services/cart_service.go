package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartVariantNotFound indicates the variant does not exist.
	ErrCartVariantNotFound = errors.New("cart: variant not found")
	// ErrCartItemUnavailable indicates the variant or one of its parents is unlisted.
	ErrCartItemUnavailable = errors.New("cart: item unavailable")
	// ErrCartOutOfStock indicates the variant has no stock.
	ErrCartOutOfStock = errors.New("cart: out of stock")
	// ErrCartQuantityExceedsStock indicates the requested quantity is above available stock.
	ErrCartQuantityExceedsStock = errors.New("cart: quantity exceeds stock")
	// ErrCartItemNotFound indicates the variant is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartUnavailable indicates a backend failure.
	ErrCartUnavailable = errors.New("cart: unavailable")
)

// CartServiceDeps wires the repositories and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Carts          repositories.CartRepository
	Catalog        repositories.CatalogRepository
	Pricer         *OfferResolver
	PendingCoupons repositories.PendingCouponStore
	Clock          func() time.Time
	Logger         Logger
}

type cartService struct {
	carts   repositories.CartRepository
	catalog repositories.CatalogRepository
	pricer  *OfferResolver
	pending repositories.PendingCouponStore
	clock   func() time.Time
	logger  Logger
}

// NewCartService validates dependencies and constructs the cart service.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("cart service: catalog repository is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("cart service: pricer is required")
	}
	return &cartService{
		carts:   deps.Carts,
		catalog: deps.Catalog,
		pricer:  deps.Pricer,
		pending: deps.PendingCoupons,
		clock:   utcClock(deps.Clock),
		logger:  loggerOrNoop(deps.Logger),
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	return s.price(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartView, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	if variantID == "" {
		return CartView{}, fmt.Errorf("%w: variant id is required", ErrCartInvalidInput)
	}
	qty := cmd.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}

	cart, err := s.load(ctx, cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	detail, err := s.variant(ctx, variantID)
	if err != nil {
		return CartView{}, err
	}
	if !detail.Purchasable() {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartItemUnavailable, variantID)
	}
	if detail.Variant.Stock <= 0 {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartOutOfStock, variantID)
	}

	now := s.clock()
	idx := cartItemIndex(cart, variantID)
	if idx < 0 {
		if qty > detail.Variant.Stock {
			return CartView{}, fmt.Errorf("%w: only %d left", ErrCartQuantityExceedsStock, detail.Variant.Stock)
		}
		cart.Items = append(cart.Items, domain.CartItem{VariantID: variantID, Quantity: qty, AddedAt: now})
	} else {
		merged := cart.Items[idx].Quantity + qty
		if merged > detail.Variant.Stock {
			return CartView{}, fmt.Errorf("%w: only %d left", ErrCartQuantityExceedsStock, detail.Variant.Stock)
		}
		cart.Items[idx].Quantity = merged
	}
	return s.save(ctx, cart, now)
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateCartItemCommand) (CartView, error) {
	variantID := strings.TrimSpace(cmd.VariantID)
	cart, err := s.load(ctx, cmd.UserID)
	if err != nil {
		return CartView{}, err
	}
	idx := cartItemIndex(cart, variantID)
	if idx < 0 {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, variantID)
	}

	current := cart.Items[idx].Quantity
	var target int
	switch cmd.Action {
	case CartActionIncrement:
		target = current + 1
	case CartActionDecrement:
		target = current - 1
	case "":
		target = cmd.Quantity
	default:
		return CartView{}, fmt.Errorf("%w: unknown action %q", ErrCartInvalidInput, cmd.Action)
	}
	if target < 1 {
		return CartView{}, fmt.Errorf("%w: quantity must be at least 1", ErrCartInvalidInput)
	}
	if target > current {
		detail, err := s.variant(ctx, variantID)
		if err != nil {
			return CartView{}, err
		}
		if target > detail.Variant.Stock {
			return CartView{}, fmt.Errorf("%w: only %d left", ErrCartQuantityExceedsStock, detail.Variant.Stock)
		}
	}
	cart.Items[idx].Quantity = target
	return s.save(ctx, cart, s.clock())
}

func (s *cartService) RemoveItem(ctx context.Context, userID, variantID string) (CartView, error) {
	cart, err := s.load(ctx, userID)
	if err != nil {
		return CartView{}, err
	}
	idx := cartItemIndex(cart, strings.TrimSpace(variantID))
	if idx < 0 {
		return CartView{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, variantID)
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	return s.save(ctx, cart, s.clock())
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.Clear(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	s.dropCoupon(ctx, userID)
	return nil
}

func (s *cartService) load(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return cart, nil
}

func (s *cartService) variant(ctx context.Context, variantID string) (domain.VariantDetail, error) {
	detail, err := s.catalog.GetVariant(ctx, variantID)
	if repositories.IsNotFound(err) {
		return domain.VariantDetail{}, fmt.Errorf("%w: %s", ErrCartVariantNotFound, variantID)
	}
	if err != nil {
		return domain.VariantDetail{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return detail, nil
}

func (s *cartService) save(ctx context.Context, cart domain.Cart, now time.Time) (CartView, error) {
	cart.UpdatedAt = now
	if err := s.carts.Save(ctx, cart); err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	s.dropCoupon(ctx, cart.UserID)
	return s.price(ctx, cart)
}

func (s *cartService) price(ctx context.Context, cart domain.Cart) (CartView, error) {
	view, err := s.pricer.PriceCart(ctx, cart)
	if err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}
	return view, nil
}

// dropCoupon forgets the applied coupon once cart totals change.
func (s *cartService) dropCoupon(ctx context.Context, userID string) {
	if s.pending == nil {
		return
	}
	if err := s.pending.Delete(ctx, userID, userID); err != nil {
		s.logger(ctx, "cart.coupon.drop.failed", map[string]any{"userId": userID, "error": err.Error()})
	}
}

func cartItemIndex(cart domain.Cart, variantID string) int {
	for i, item := range cart.Items {
		if item.VariantID == variantID {
			return i
		}
	}
	return -1
}
