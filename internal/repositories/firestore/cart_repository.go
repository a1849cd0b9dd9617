package firestore

import (
	"context"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type cartDocument struct {
	Items      []cartItemDocument `firestore:"items"`
	ItemsCount int                `firestore:"itemsCount"`
	UpdatedAt  time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	VariantID string    `firestore:"variantId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
}

// CartRepository persists carts using the user ID as document identifier.
type CartRepository struct {
	base
}

// Get loads the cart of userID, returning an empty cart when none is stored.
func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	uid := strings.TrimSpace(userID)
	ref, err := r.doc(ctx, cartsCollection, uid)
	if err != nil {
		return domain.Cart{}, err
	}
	doc, err := pfirestore.GetDoc[cartDocument](ctx, ref)
	if pfirestore.IsNotFound(err) {
		return domain.Cart{UserID: uid}, nil
	}
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{UserID: uid, UpdatedAt: doc.UpdatedAt, Items: make([]domain.CartItem, 0, len(doc.Items))}
	for _, item := range doc.Items {
		cart.Items = append(cart.Items, domain.CartItem{VariantID: item.VariantID, Quantity: item.Quantity, AddedAt: item.AddedAt})
	}
	return cart, nil
}

// Save overwrites the cart document.
func (r *CartRepository) Save(ctx context.Context, cart domain.Cart) error {
	ref, err := r.doc(ctx, cartsCollection, strings.TrimSpace(cart.UserID))
	if err != nil {
		return err
	}
	updatedAt := cart.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.timestamp()
	}
	doc := cartDocument{Items: make([]cartItemDocument, 0, len(cart.Items)), UpdatedAt: updatedAt.UTC()}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{VariantID: item.VariantID, Quantity: item.Quantity, AddedAt: item.AddedAt.UTC()})
		doc.ItemsCount += item.Quantity
	}
	return pfirestore.SetDoc(ctx, ref, doc)
}

// Clear deletes the cart document.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	ref, err := r.doc(ctx, cartsCollection, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	return pfirestore.DeleteDoc(ctx, ref)
}

var _ repositories.CartRepository = (*CartRepository)(nil)
