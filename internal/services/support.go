package services

import (
	"context"
	"errors"
	"maps"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrInvalidPageToken is returned when a listing is asked for a malformed page token.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type noopRecorder struct{}

func (noopRecorder) RecordOrderOperation(context.Context, string, string) {}

func (noopRecorder) RecordWalletMovement(context.Context, domain.WalletTransactionType, domain.WalletReason, int64) {
}

func unitOrNoop(unit repositories.UnitOfWork) repositories.UnitOfWork {
	if unit == nil {
		return noopUnitOfWork{}
	}
	return unit
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}

func idGenerator(gen func() string) func() string {
	if gen != nil {
		return gen
	}
	return func() string {
		return ulid.Make().String()
	}
}

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func recorderOrNoop(recorder OperationRecorder) OperationRecorder {
	if recorder == nil {
		return noopRecorder{}
	}
	return recorder
}

// publishOrderEvent logs publish failures instead of returning them; the
// state change has already been committed.
func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger Logger, event OrderEvent) {
	if events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := events.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// pageError maps pagination token failures to ErrInvalidPageToken.
func pageError(err error) error {
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return ErrInvalidPageToken
	}
	return err
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func valuePtr[T any](v T) *T {
	return &v
}
