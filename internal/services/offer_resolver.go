package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

// ErrPricingUnavailable wraps catalog or offer lookups that failed.
var ErrPricingUnavailable = errors.New("pricing: catalog unavailable")

// OfferResolverDeps bundles collaborators required to construct an OfferResolver.
type OfferResolverDeps struct {
	Catalog  repositories.CatalogRepository
	Offers   repositories.OfferRepository
	Delivery domain.DeliveryRules
	Clock    func() time.Time
}

// OfferResolver prices variants with the best applicable offer and prices carts.
type OfferResolver struct {
	catalog  repositories.CatalogRepository
	offers   repositories.OfferRepository
	delivery domain.DeliveryRules
	clock    func() time.Time
}

// NewOfferResolver validates dependencies and constructs a resolver.
func NewOfferResolver(deps OfferResolverDeps) (*OfferResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("offer resolver: catalog repository is required")
	}
	if deps.Offers == nil {
		return nil, errors.New("offer resolver: offer repository is required")
	}
	return &OfferResolver{
		catalog:  deps.Catalog,
		offers:   deps.Offers,
		delivery: deps.Delivery,
		clock:    utcClock(deps.Clock),
	}, nil
}

// Resolve returns the applied offer for each variant detail, keyed by variant ID.
func (r *OfferResolver) Resolve(ctx context.Context, details []domain.VariantDetail) (map[string]domain.AppliedOffer, error) {
	productIDs := make([]string, 0, len(details))
	brandIDs := make([]string, 0, len(details))
	for _, d := range details {
		productIDs = append(productIDs, d.Product.ID)
		brandIDs = append(brandIDs, d.Brand.ID)
	}
	productOffers, err := r.offers.Find(ctx, domain.OfferKindProduct, productIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	brandOffers, err := r.offers.Find(ctx, domain.OfferKindBrand, brandIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}

	now := r.clock()
	out := make(map[string]domain.AppliedOffer, len(details))
	for _, d := range details {
		var productOffer, brandOffer *domain.Offer
		if offer, ok := productOffers[d.Product.ID]; ok {
			productOffer = &offer
		}
		if offer, ok := brandOffers[d.Brand.ID]; ok {
			brandOffer = &offer
		}
		out[d.Variant.ID] = domain.ResolveOffer(productOffer, brandOffer, d.Variant.Price, now)
	}
	return out, nil
}

// DeliveryCharge applies the delivery rules to a subtotal already reduced by offers.
func (r *OfferResolver) DeliveryCharge(subtotalAfterOffers int64) int64 {
	return r.delivery.DeliveryCharge(subtotalAfterOffers)
}

// PriceCart prices every cart line at current catalog prices and offers.
// Lines whose variant disappeared from the catalog are reported unavailable.
func (r *OfferResolver) PriceCart(ctx context.Context, cart domain.Cart) (CartView, error) {
	view := CartView{UserID: cart.UserID, UpdatedAt: cart.UpdatedAt, Lines: make([]CartLine, 0, len(cart.Items))}
	if len(cart.Items) == 0 {
		return view, nil
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.VariantID)
	}
	details, err := r.catalog.GetVariants(ctx, ids)
	if err != nil {
		return CartView{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	known := make([]domain.VariantDetail, 0, len(details))
	for _, d := range details {
		known = append(known, d)
	}
	applied, err := r.Resolve(ctx, known)
	if err != nil {
		return CartView{}, err
	}

	view.CanCheckout = true
	for _, item := range cart.Items {
		line := CartLine{VariantID: item.VariantID, Quantity: item.Quantity}
		detail, ok := details[item.VariantID]
		if ok {
			offer := applied[item.VariantID]
			line.ProductID = detail.Product.ID
			line.ProductName = detail.Product.Name
			line.BrandID = detail.Brand.ID
			line.ColorName = detail.Variant.ColorName
			line.ColorCode = detail.Variant.ColorCode
			line.ListPrice = detail.Variant.Price
			line.Price = offer.Price
			line.OfferPercent = offer.Percent
			line.OfferKind = offer.Kind
			line.Stock = detail.Variant.Stock
			line.Available = detail.Purchasable()
			line.InStock = detail.Variant.Stock >= item.Quantity
		}
		line.Subtotal = line.Price * int64(line.Quantity)
		if !line.Available || !line.InStock {
			view.CanCheckout = false
		}
		view.Subtotal += line.ListPrice * int64(line.Quantity)
		view.Savings += (line.ListPrice - line.Price) * int64(line.Quantity)
		view.Total += line.Subtotal
		view.ItemCount += line.Quantity
		view.Lines = append(view.Lines, line)
	}
	view.DeliveryCharge = r.delivery.DeliveryCharge(view.Total)
	return view, nil
}
