package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dingdong-ecommerce/api/internal/repositories"
)

var (
	// ErrAddressInvalidInput indicates the caller supplied invalid input.
	ErrAddressInvalidInput = errors.New("address: invalid input")
	// ErrAddressNotFound indicates the address does not exist or no default is set.
	ErrAddressNotFound = errors.New("address: not found")
	// ErrAddressUnavailable indicates a backend failure.
	ErrAddressUnavailable = errors.New("address: unavailable")
)

// AddressServiceDeps bundles collaborators required to construct the address service.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
}

type addressService struct {
	addresses repositories.AddressRepository
}

// NewAddressService validates dependencies and constructs the address service.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	return &addressService{addresses: deps.Addresses}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrAddressInvalidInput)
	}
	list, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return list, nil
}

func (s *addressService) SetDefault(ctx context.Context, userID, addressID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return nil, fmt.Errorf("%w: user id and address id are required", ErrAddressInvalidInput)
	}
	if err := s.addresses.SetDefault(ctx, userID, addressID); err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return s.ListAddresses(ctx, userID)
}

func (s *addressService) Resolve(ctx context.Context, userID, addressID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	if addressID = strings.TrimSpace(addressID); addressID != "" {
		addr, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			return Address{}, s.mapRepositoryError(err)
		}
		return addr, nil
	}
	list, err := s.ListAddresses(ctx, userID)
	if err != nil {
		return Address{}, err
	}
	for _, addr := range list {
		if addr.IsDefault {
			return addr, nil
		}
	}
	return Address{}, fmt.Errorf("%w: no default address", ErrAddressNotFound)
}

func (s *addressService) mapRepositoryError(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrAddressNotFound, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrAddressUnavailable, err)
	}
	return nil
}
