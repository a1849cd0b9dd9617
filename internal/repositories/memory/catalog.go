package memory

import (
	"context"
	"strings"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type catalogRepo struct{ s *Store }

func (r catalogRepo) GetVariant(ctx context.Context, variantID string) (domain.VariantDetail, error) {
	defer r.s.lock(ctx)()
	detail, ok := r.s.detail(strings.TrimSpace(variantID))
	if !ok {
		return domain.VariantDetail{}, repositories.NewNotFound("catalog.get_variant")
	}
	return detail, nil
}

func (r catalogRepo) GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.VariantDetail, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]domain.VariantDetail, len(variantIDs))
	for _, id := range variantIDs {
		if detail, ok := r.s.detail(id); ok {
			out[id] = detail
		}
	}
	return out, nil
}

func (s *Store) detail(variantID string) (domain.VariantDetail, bool) {
	variant, ok := s.state.variants[variantID]
	if !ok {
		return domain.VariantDetail{}, false
	}
	product := s.state.products[variant.ProductID]
	return domain.VariantDetail{
		Variant:  variant,
		Product:  product,
		Brand:    s.state.brands[product.BrandID],
		Category: s.state.categories[product.CategoryID],
	}, true
}

func (r catalogRepo) DecrementStock(ctx context.Context, lines []domain.StockLine) error {
	defer r.s.lock(ctx)()
	needed := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return repositories.NewStockError(repositories.StockErrorInvalidInput, line.VariantID, line.Quantity, 0)
		}
		needed[line.VariantID] += line.Quantity
	}
	for _, line := range lines {
		variant, ok := r.s.state.variants[line.VariantID]
		if !ok {
			return repositories.NewStockError(repositories.StockErrorVariantNotFound, line.VariantID, needed[line.VariantID], 0)
		}
		if variant.Stock < needed[line.VariantID] {
			return repositories.NewStockError(repositories.StockErrorInsufficient, line.VariantID, needed[line.VariantID], variant.Stock)
		}
	}
	for id, qty := range needed {
		variant := r.s.state.variants[id]
		variant.Stock -= qty
		r.s.state.variants[id] = variant
	}
	return nil
}

func (r catalogRepo) RestoreStock(ctx context.Context, lines []domain.StockLine) error {
	defer r.s.lock(ctx)()
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		variant, ok := r.s.state.variants[line.VariantID]
		if !ok {
			return repositories.NewStockError(repositories.StockErrorVariantNotFound, line.VariantID, line.Quantity, 0)
		}
		variant.Stock += line.Quantity
		r.s.state.variants[line.VariantID] = variant
	}
	return nil
}

type offerRepo struct{ s *Store }

func (r offerRepo) Find(ctx context.Context, kind domain.OfferKind, targetIDs []string) (map[string]domain.Offer, error) {
	defer r.s.lock(ctx)()
	out := make(map[string]domain.Offer)
	for _, id := range targetIDs {
		if offer, ok := r.s.state.offers[offerKey{kind, id}]; ok {
			out[id] = offer
		}
	}
	return out, nil
}

func (r offerRepo) Upsert(ctx context.Context, offer domain.Offer) error {
	defer r.s.lock(ctx)()
	r.s.state.offers[offerKey{offer.Kind, offer.TargetID}] = offer
	return nil
}

func (r offerRepo) Delete(ctx context.Context, kind domain.OfferKind, targetID string) error {
	defer r.s.lock(ctx)()
	key := offerKey{kind, targetID}
	if _, ok := r.s.state.offers[key]; !ok {
		return repositories.NewNotFound("offers.delete")
	}
	delete(r.s.state.offers, key)
	return nil
}
