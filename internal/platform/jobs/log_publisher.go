package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/dingdong-ecommerce/api/internal/services"
)

// LogOrderEventPublisher writes order events to the structured log. It backs
// local runs without a broker.
type LogOrderEventPublisher struct {
	logger *zap.Logger
}

// NewLogOrderEventPublisher constructs a log backed publisher. A nil logger discards events.
func NewLogOrderEventPublisher(logger *zap.Logger) *LogOrderEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOrderEventPublisher{logger: logger.Named("order_events")}
}

func (p *LogOrderEventPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Info("order event",
		zap.String("type", event.Type),
		zap.String("orderId", event.OrderID),
		zap.String("orderNumber", event.OrderNumber),
		zap.String("previousStatus", event.PreviousStatus),
		zap.String("currentStatus", event.CurrentStatus),
		zap.String("actorId", event.ActorID),
		zap.Time("occurredAt", event.OccurredAt),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}
