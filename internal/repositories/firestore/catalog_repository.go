package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type categoryDocument struct {
	Name   string `firestore:"name"`
	Listed bool   `firestore:"listed"`
}

type brandDocument struct {
	Name   string `firestore:"name"`
	Listed bool   `firestore:"listed"`
}

type productDocument struct {
	Name       string `firestore:"name"`
	BrandID    string `firestore:"brandId"`
	CategoryID string `firestore:"categoryId"`
	Listed     bool   `firestore:"listed"`
}

type variantDocument struct {
	ProductID string    `firestore:"productId"`
	ColorName string    `firestore:"colorName"`
	ColorCode string    `firestore:"colorCode,omitempty"`
	Price     int64     `firestore:"price"`
	Stock     int       `firestore:"stock"`
	Listed    bool      `firestore:"listed"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	return domain.Variant{
		ID:        id,
		ProductID: d.ProductID,
		ColorName: d.ColorName,
		ColorCode: d.ColorCode,
		Price:     d.Price,
		Stock:     d.Stock,
		Listed:    d.Listed,
	}
}

// CatalogRepository reads the catalog and owns variant stock.
type CatalogRepository struct {
	base
}

// GetVariant loads a variant joined with its parents.
func (r *CatalogRepository) GetVariant(ctx context.Context, variantID string) (domain.VariantDetail, error) {
	details, err := r.GetVariants(ctx, []string{strings.TrimSpace(variantID)})
	if err != nil {
		return domain.VariantDetail{}, err
	}
	detail, ok := details[strings.TrimSpace(variantID)]
	if !ok {
		return domain.VariantDetail{}, repositories.NewNotFound("catalog.get_variant")
	}
	return detail, nil
}

// GetVariants loads variants and their product, brand and category in three batched reads.
func (r *CatalogRepository) GetVariants(ctx context.Context, variantIDs []string) (map[string]domain.VariantDetail, error) {
	out := make(map[string]domain.VariantDetail, len(variantIDs))
	ids := uniqueIDs(variantIDs)
	if len(ids) == 0 {
		return out, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	variants, found, err := pfirestore.GetAll[variantDocument](ctx, client, refs(client, variantsCollection, ids))
	if err != nil {
		return nil, err
	}
	productIDs := make([]string, 0, len(ids))
	for i := range ids {
		if found[i] {
			productIDs = append(productIDs, variants[i].ProductID)
		}
	}
	productIDs = uniqueIDs(productIDs)
	products, productFound, err := pfirestore.GetAll[productDocument](ctx, client, refs(client, productsCollection, productIDs))
	if err != nil {
		return nil, err
	}
	productByID := make(map[string]productDocument, len(productIDs))
	var brandIDs, categoryIDs []string
	for i, id := range productIDs {
		if productFound[i] {
			productByID[id] = products[i]
			brandIDs = append(brandIDs, products[i].BrandID)
			categoryIDs = append(categoryIDs, products[i].CategoryID)
		}
	}
	brandIDs, categoryIDs = uniqueIDs(brandIDs), uniqueIDs(categoryIDs)
	brands, brandFound, err := pfirestore.GetAll[brandDocument](ctx, client, refs(client, brandsCollection, brandIDs))
	if err != nil {
		return nil, err
	}
	categories, categoryFound, err := pfirestore.GetAll[categoryDocument](ctx, client, refs(client, categoriesCollection, categoryIDs))
	if err != nil {
		return nil, err
	}
	brandByID := make(map[string]domain.Brand, len(brandIDs))
	for i, id := range brandIDs {
		if brandFound[i] {
			brandByID[id] = domain.Brand{ID: id, Name: brands[i].Name, Listed: brands[i].Listed}
		}
	}
	categoryByID := make(map[string]domain.Category, len(categoryIDs))
	for i, id := range categoryIDs {
		if categoryFound[i] {
			categoryByID[id] = domain.Category{ID: id, Name: categories[i].Name, Listed: categories[i].Listed}
		}
	}

	for i, id := range ids {
		if !found[i] {
			continue
		}
		variant := variants[i].toDomain(id)
		productDoc := productByID[variant.ProductID]
		out[id] = domain.VariantDetail{
			Variant: variant,
			Product: domain.Product{
				ID:         variant.ProductID,
				Name:       productDoc.Name,
				BrandID:    productDoc.BrandID,
				CategoryID: productDoc.CategoryID,
				Listed:     productDoc.Listed,
			},
			Brand:    brandByID[productDoc.BrandID],
			Category: categoryByID[productDoc.CategoryID],
		}
	}
	return out, nil
}

// DecrementStock reads every variant inside a transaction and only writes
// when all lines can be served.
func (r *CatalogRepository) DecrementStock(ctx context.Context, lines []domain.StockLine) error {
	needed, ids, err := aggregateLines(lines)
	if err != nil {
		return err
	}
	return r.atomically(ctx, func(ctx context.Context) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		variantRefs := refs(client, variantsCollection, ids)
		docs, found, err := pfirestore.GetAll[variantDocument](ctx, client, variantRefs)
		if err != nil {
			return err
		}
		for i, id := range ids {
			if !found[i] {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, id, needed[id], 0)
			}
			if docs[i].Stock < needed[id] {
				return repositories.NewStockError(repositories.StockErrorInsufficient, id, needed[id], docs[i].Stock)
			}
		}
		now := r.timestamp()
		for i, id := range ids {
			updates := []firestore.Update{
				{Path: "stock", Value: docs[i].Stock - needed[id]},
				{Path: "updatedAt", Value: now},
			}
			if err := pfirestore.UpdateDoc(ctx, variantRefs[i], updates); err != nil {
				return err
			}
		}
		return nil
	})
}

// RestoreStock adds quantities back with server side increments.
func (r *CatalogRepository) RestoreStock(ctx context.Context, lines []domain.StockLine) error {
	needed, ids, err := aggregateLines(lines)
	if err != nil {
		return err
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	now := r.timestamp()
	for _, id := range ids {
		updates := []firestore.Update{
			{Path: "stock", Value: firestore.Increment(needed[id])},
			{Path: "updatedAt", Value: now},
		}
		if err := pfirestore.UpdateDoc(ctx, client.Collection(variantsCollection).Doc(id), updates); err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewStockError(repositories.StockErrorVariantNotFound, id, needed[id], 0)
			}
			return err
		}
	}
	return nil
}

func aggregateLines(lines []domain.StockLine) (map[string]int, []string, error) {
	needed := make(map[string]int, len(lines))
	var ids []string
	for _, line := range lines {
		id := strings.TrimSpace(line.VariantID)
		if id == "" || line.Quantity <= 0 {
			return nil, nil, repositories.NewStockError(repositories.StockErrorInvalidInput, id, line.Quantity, 0)
		}
		if _, seen := needed[id]; !seen {
			ids = append(ids, id)
		}
		needed[id] += line.Quantity
	}
	if len(ids) == 0 {
		return nil, nil, errors.New("stock: at least one line is required")
	}
	return needed, ids, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func refs(client *firestore.Client, collection string, ids []string) []*firestore.DocumentRef {
	out := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		out[i] = client.Collection(collection).Doc(id)
	}
	return out
}

type offerDocument struct {
	Percent    int        `firestore:"percent"`
	Active     bool       `firestore:"active"`
	ValidFrom  time.Time  `firestore:"validFrom"`
	ValidUntil *time.Time `firestore:"validUntil,omitempty"`
	UpdatedAt  time.Time  `firestore:"updatedAt"`
}

// OfferRepository stores product and brand offers keyed by their target.
type OfferRepository struct {
	base
}

func offerCollection(kind domain.OfferKind) (string, error) {
	switch kind {
	case domain.OfferKindProduct:
		return productOffersCollection, nil
	case domain.OfferKindBrand:
		return brandOffersCollection, nil
	}
	return "", errors.New("offers: unknown offer kind")
}

// Find loads the offers for the given targets.
func (r *OfferRepository) Find(ctx context.Context, kind domain.OfferKind, targetIDs []string) (map[string]domain.Offer, error) {
	collection, err := offerCollection(kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Offer)
	ids := uniqueIDs(targetIDs)
	if len(ids) == 0 {
		return out, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	docs, found, err := pfirestore.GetAll[offerDocument](ctx, client, refs(client, collection, ids))
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if !found[i] {
			continue
		}
		out[id] = domain.Offer{
			Kind:       kind,
			TargetID:   id,
			Percent:    docs[i].Percent,
			Active:     docs[i].Active,
			ValidFrom:  docs[i].ValidFrom,
			ValidUntil: docs[i].ValidUntil,
			UpdatedAt:  docs[i].UpdatedAt,
		}
	}
	return out, nil
}

// Upsert replaces the offer of its target.
func (r *OfferRepository) Upsert(ctx context.Context, offer domain.Offer) error {
	collection, err := offerCollection(offer.Kind)
	if err != nil {
		return err
	}
	ref, err := r.doc(ctx, collection, offer.TargetID)
	if err != nil {
		return err
	}
	updatedAt := offer.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.timestamp()
	}
	return pfirestore.SetDoc(ctx, ref, offerDocument{
		Percent:    offer.Percent,
		Active:     offer.Active,
		ValidFrom:  offer.ValidFrom.UTC(),
		ValidUntil: offer.ValidUntil,
		UpdatedAt:  updatedAt.UTC(),
	})
}

// Delete removes the offer of a target; a missing offer is reported as not found.
func (r *OfferRepository) Delete(ctx context.Context, kind domain.OfferKind, targetID string) error {
	collection, err := offerCollection(kind)
	if err != nil {
		return err
	}
	ref, err := r.doc(ctx, collection, targetID)
	if err != nil {
		return err
	}
	return pfirestore.DeleteDoc(ctx, ref, firestore.Exists)
}
