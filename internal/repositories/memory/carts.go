package memory

import (
	"context"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

type cartRepo struct{ s *Store }

func (r cartRepo) Get(ctx context.Context, userID string) (domain.Cart, error) {
	defer r.s.lock(ctx)()
	cart, ok := r.s.state.carts[userID]
	if !ok {
		return domain.Cart{UserID: userID}, nil
	}
	return cloneCart(cart), nil
}

func (r cartRepo) Save(ctx context.Context, cart domain.Cart) error {
	defer r.s.lock(ctx)()
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = r.s.now().UTC()
	}
	r.s.state.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func (r cartRepo) Clear(ctx context.Context, userID string) error {
	defer r.s.lock(ctx)()
	delete(r.s.state.carts, userID)
	return nil
}

type addressRepo struct{ s *Store }

func (r addressRepo) List(ctx context.Context, userID string) ([]domain.Address, error) {
	defer r.s.lock(ctx)()
	return append([]domain.Address(nil), r.s.state.addresses[userID]...), nil
}

func (r addressRepo) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	defer r.s.lock(ctx)()
	for _, addr := range r.s.state.addresses[userID] {
		if addr.ID == addressID {
			return addr, nil
		}
	}
	return domain.Address{}, repositories.NewNotFound("addresses.get")
}

func (r addressRepo) Save(ctx context.Context, address domain.Address) error {
	defer r.s.lock(ctx)()
	list := r.s.state.addresses[address.UserID]
	for i, existing := range list {
		if existing.ID == address.ID {
			list[i] = address
			return nil
		}
	}
	r.s.state.addresses[address.UserID] = append(list, address)
	return nil
}

func (r addressRepo) SetDefault(ctx context.Context, userID, addressID string) error {
	defer r.s.lock(ctx)()
	list := r.s.state.addresses[userID]
	found := false
	for _, addr := range list {
		if addr.ID == addressID {
			found = true
		}
	}
	if !found {
		return repositories.NewNotFound("addresses.set_default")
	}
	now := r.s.now().UTC()
	updated := make([]domain.Address, len(list))
	for i, addr := range list {
		isDefault := addr.ID == addressID
		if addr.IsDefault != isDefault {
			addr.IsDefault = isDefault
			addr.UpdatedAt = now
		}
		updated[i] = addr
	}
	r.s.state.addresses[userID] = updated
	return nil
}
