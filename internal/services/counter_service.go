package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	orderCounterID     = "orders"
	orderNumberPrefix  = "DNG"
	orderNumberPattern = "%s-%04d-%06d"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter cannot increment further.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewCounterService constructs the order number issuer.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	return &counterService{repo: deps.Repository, clock: utcClock(deps.Clock)}, nil
}

// NextOrderNumber returns DNG-<year>-<6 digit sequence>. The sequence is
// global, so numbers stay unique across years.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	seq, err := s.repo.Next(ctx, orderCounterID, 1)
	if err != nil {
		return "", translateCounterError(err)
	}
	return fmt.Sprintf(orderNumberPattern, orderNumberPrefix, s.clock().Year(), seq), nil
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %v", ErrCounterExhausted, counterErr)
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %v", ErrCounterInvalidInput, counterErr)
	}
	return err
}
