package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid input.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the offer does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogUnavailable indicates a backend failure.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Offers repositories.OfferRepository
	Clock  func() time.Time
	Logger Logger
}

type catalogService struct {
	offers   repositories.OfferRepository
	clock    func() time.Time
	logger   Logger
	validate *validator.Validate
}

// NewCatalogService validates dependencies and constructs the catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Offers == nil {
		return nil, errors.New("catalog service: offer repository is required")
	}
	return &catalogService{
		offers:   deps.Offers,
		clock:    utcClock(deps.Clock),
		logger:   loggerOrNoop(deps.Logger),
		validate: NewValidator(),
	}, nil
}

func (s *catalogService) UpsertOffer(ctx context.Context, cmd UpsertOfferCommand) (Offer, error) {
	if err := checkOfferTarget(cmd.Kind, cmd.TargetID); err != nil {
		return Offer{}, err
	}
	if err := s.validate.Struct(cmd); err != nil {
		return Offer{}, fmt.Errorf("%w: percent must be between 1 and 100", ErrCatalogInvalidInput)
	}
	now := s.clock()
	offer := Offer{
		Kind:      cmd.Kind,
		TargetID:  strings.TrimSpace(cmd.TargetID),
		Percent:   cmd.Percent,
		Active:    cmd.Active,
		ValidFrom: cmd.ValidFrom.UTC(),
		UpdatedAt: now,
	}
	if offer.ValidFrom.IsZero() {
		offer.ValidFrom = now
	}
	if cmd.ValidUntil != nil {
		until := cmd.ValidUntil.UTC()
		if until.Before(offer.ValidFrom) {
			return Offer{}, fmt.Errorf("%w: offer ends before it starts", ErrCatalogInvalidInput)
		}
		offer.ValidUntil = &until
	}
	if err := s.offers.Upsert(ctx, offer); err != nil {
		return Offer{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	s.logger(ctx, "offer.upserted", map[string]any{"kind": string(offer.Kind), "targetId": offer.TargetID, "percent": offer.Percent})
	return offer, nil
}

func (s *catalogService) DeleteOffer(ctx context.Context, kind domain.OfferKind, targetID string) error {
	if err := checkOfferTarget(kind, targetID); err != nil {
		return err
	}
	err := s.offers.Delete(ctx, kind, strings.TrimSpace(targetID))
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return nil
}

func checkOfferTarget(kind domain.OfferKind, targetID string) error {
	if kind != domain.OfferKindProduct && kind != domain.OfferKindBrand {
		return fmt.Errorf("%w: unknown offer kind %q", ErrCatalogInvalidInput, kind)
	}
	if strings.TrimSpace(targetID) == "" {
		return fmt.Errorf("%w: target id is required", ErrCatalogInvalidInput)
	}
	return nil
}
