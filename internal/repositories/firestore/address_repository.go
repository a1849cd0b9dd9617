package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	pfirestore "github.com/dingdong-ecommerce/api/internal/platform/firestore"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type addressDocument struct {
	FullName   string    `firestore:"fullName"`
	Phone      string    `firestore:"phone"`
	FlatHouse  string    `firestore:"flatHouse"`
	AreaStreet string    `firestore:"areaStreet"`
	Landmark   string    `firestore:"landmark,omitempty"`
	TownCity   string    `firestore:"townCity"`
	State      string    `firestore:"state"`
	Pincode    string    `firestore:"pincode"`
	IsDefault  bool      `firestore:"isDefault"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d addressDocument) toDomain(userID, id string) domain.Address {
	return domain.Address{
		ID:           id,
		UserID:       userID,
		IsDefault:    d.IsDefault,
		OrderAddress: d.postal(),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func (d addressDocument) postal() domain.OrderAddress {
	return domain.OrderAddress{
		FullName:   d.FullName,
		Phone:      d.Phone,
		FlatHouse:  d.FlatHouse,
		AreaStreet: d.AreaStreet,
		Landmark:   d.Landmark,
		TownCity:   d.TownCity,
		State:      d.State,
		Pincode:    d.Pincode,
	}
}

// AddressRepository persists user addresses under users/{uid}/addresses.
type AddressRepository struct {
	base
}

func (r *AddressRepository) addresses(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, fmt.Errorf("addresses: user id is required")
	}
	return r.collection(ctx, fmt.Sprintf(addressCollectionFormat, uid))
}

// List returns the user's addresses, most recently updated first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.addresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.Query[addressDocument](ctx, coll.OrderBy("updatedAt", firestore.Desc))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(userID, doc.ID))
	}
	return out, nil
}

// Get loads one address of the user.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	coll, err := r.addresses(ctx, userID)
	if err != nil {
		return domain.Address{}, err
	}
	doc, err := pfirestore.GetDoc[addressDocument](ctx, coll.Doc(strings.TrimSpace(addressID)))
	if err != nil {
		return domain.Address{}, err
	}
	return doc.toDomain(userID, addressID), nil
}

// Save writes an address as given.
func (r *AddressRepository) Save(ctx context.Context, address domain.Address) error {
	coll, err := r.addresses(ctx, address.UserID)
	if err != nil {
		return err
	}
	now := r.timestamp()
	doc := addressDocument{
		FullName:   address.FullName,
		Phone:      address.Phone,
		FlatHouse:  address.FlatHouse,
		AreaStreet: address.AreaStreet,
		Landmark:   address.Landmark,
		TownCity:   address.TownCity,
		State:      address.State,
		Pincode:    address.Pincode,
		IsDefault:  address.IsDefault,
		CreatedAt:  address.CreatedAt,
		UpdatedAt:  now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	return pfirestore.SetDoc(ctx, coll.Doc(address.ID), doc)
}

// SetDefault marks addressID as the only default address of the user.
func (r *AddressRepository) SetDefault(ctx context.Context, userID, addressID string) error {
	coll, err := r.addresses(ctx, userID)
	if err != nil {
		return err
	}
	return r.atomically(ctx, func(ctx context.Context) error {
		docs, err := pfirestore.Query[addressDocument](ctx, coll.Query)
		if err != nil {
			return err
		}
		found := false
		for _, doc := range docs {
			if doc.ID == addressID {
				found = true
			}
		}
		if !found {
			return repositories.NewNotFound("addresses.set_default")
		}
		now := r.timestamp()
		for _, doc := range docs {
			isDefault := doc.ID == addressID
			if doc.Data.IsDefault == isDefault {
				continue
			}
			updates := []firestore.Update{{Path: "isDefault", Value: isDefault}, {Path: "updatedAt", Value: now}}
			if err := pfirestore.UpdateDoc(ctx, coll.Doc(doc.ID), updates); err != nil {
				return err
			}
		}
		return nil
	})
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)
