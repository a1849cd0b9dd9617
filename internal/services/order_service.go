package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/textutil"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	orderEventCancelled     = "order.cancelled"
	orderEventItemCancelled = "order.item_cancelled"
	orderEventStatusChanged = "order.status_changed"
	orderEventExpired       = "order.expired"

	defaultReturnWindow  = 7 * 24 * time.Hour
	defaultUnpaidTTL     = 30 * time.Minute
	expirySweepBatchSize = 100

	reasonAllItemsCancelled = "All items cancelled"
	reasonPaymentIncomplete = "Payment not completed"
	reasonCustomerCancelled = "Cancelled by customer"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderNotCancellable indicates the order has moved past cancellation.
	ErrOrderNotCancellable = errors.New("order: cannot be cancelled")
	// ErrOrderItemNotFound indicates the item is not part of the order.
	ErrOrderItemNotFound = errors.New("order: item not found")
	// ErrOrderItemAlreadyCancelled indicates the item was cancelled before.
	ErrOrderItemAlreadyCancelled = errors.New("order: item already cancelled")
	// ErrOrderInvalidTransition indicates an invalid status transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Returns      repositories.ReturnRepository
	Catalog      repositories.CatalogRepository
	Wallets      WalletService
	Coupons      CouponService
	UnitOfWork   repositories.UnitOfWork
	ReturnWindow time.Duration
	UnpaidTTL    time.Duration
	Clock        func() time.Time
	Events       OrderEventPublisher
	Metrics      OperationRecorder
	Logger       Logger
}

type orderService struct {
	orders       repositories.OrderRepository
	returns      repositories.ReturnRepository
	catalog      repositories.CatalogRepository
	wallets      WalletService
	coupons      CouponService
	unitOfWork   repositories.UnitOfWork
	returnWindow time.Duration
	unpaidTTL    time.Duration
	clock        func() time.Time
	events       OrderEventPublisher
	metrics      OperationRecorder
	logger       Logger
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Returns == nil:
		return nil, errors.New("order service: return repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("order service: wallet service is required")
	case deps.Coupons == nil:
		return nil, errors.New("order service: coupon service is required")
	}
	window := deps.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}
	ttl := deps.UnpaidTTL
	if ttl <= 0 {
		ttl = defaultUnpaidTTL
	}
	return &orderService{
		orders:       deps.Orders,
		returns:      deps.Returns,
		catalog:      deps.Catalog,
		wallets:      deps.Wallets,
		coupons:      deps.Coupons,
		unitOfWork:   unitOrNoop(deps.UnitOfWork),
		returnWindow: window,
		unpaidTTL:    ttl,
		clock:        utcClock(deps.Clock),
		events:       deps.Events,
		metrics:      recorderOrNoop(deps.Metrics),
		logger:       loggerOrNoop(deps.Logger),
	}, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	filter.Search = strings.TrimSpace(filter.Search)
	if !filter.Created.From.IsZero() && !filter.Created.To.IsZero() && filter.Created.To.Before(filter.Created.From) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: date range is inverted", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(pageError(err), ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, ErrInvalidPageToken
		}
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// OrderDateRange turns a customer facing date preset into a creation range.
// An empty preset yields an open range.
func OrderDateRange(preset string, now time.Time) (repositories.DateRange, error) {
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "":
		return repositories.DateRange{}, nil
	case "last-week":
		return repositories.DateRange{From: now.AddDate(0, 0, -7)}, nil
	case "last-month":
		return repositories.DateRange{From: now.AddDate(0, -1, 0)}, nil
	case "last-3-months":
		return repositories.DateRange{From: now.AddDate(0, -3, 0)}, nil
	}
	return repositories.DateRange{}, fmt.Errorf("%w: unknown date range %q", ErrOrderInvalidInput, preset)
}

func (s *orderService) GetOrder(ctx context.Context, cmd GetOrderCommand) (OrderDetail, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || (!cmd.Admin && userID == "") {
		return OrderDetail{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetail{}, mapOrderRepositoryError(err)
	}
	if !cmd.Admin && order.UserID != userID {
		return OrderDetail{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	returns, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderDetail{}, fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
	}

	now := s.clock()
	detail := OrderDetail{
		Order:     order,
		CanCancel: order.Cancellable(),
		Steps:     statusSteps(order.Status),
		Returns:   returns,
	}
	if order.WithinReturnWindow(now, s.returnWindow) {
		detail.ReturnDaysLeft = order.ReturnDaysLeft(now, s.returnWindow)
		eligibility := returnEligibility(order, returns)
		detail.CanReturn = eligibility.order
		detail.ReturnableItems = eligibility.items
	}
	return detail, nil
}

func statusSteps(current domain.OrderStatus) []StatusStep {
	if current == domain.OrderStatusReturned {
		current = domain.OrderStatusDelivered
	}
	position := -1
	for i, status := range domain.StatusSteps {
		if status == current {
			position = i
		}
	}
	steps := make([]StatusStep, 0, len(domain.StatusSteps))
	for i, status := range domain.StatusSteps {
		steps = append(steps, StatusStep{Status: status, Reached: i <= position, Current: i == position})
	}
	return steps
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrOrderInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonLength)
	if reason == "" {
		reason = reasonCustomerCancelled
	}

	var order Order
	var previous domain.OrderStatus
	var refunded int64
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.ownedOrder(txCtx, userID, orderID)
		if err != nil {
			return err
		}
		if !current.Cancellable() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, current.Status)
		}
		order = current
		previous = order.Status
		now := s.clock()

		active := order.ActiveItems()
		if order.StockCommitted && len(active) > 0 {
			if err := s.catalog.RestoreStock(txCtx, domain.StockLines(active)); err != nil {
				return fmt.Errorf("%w: restore stock: %v", ErrOrderUnavailable, err)
			}
		}
		for i := range order.Items {
			if order.Items[i].Active() {
				order.Items[i].Status = domain.ItemStatusCancelled
				order.Items[i].CanceledAt = valuePtr(now)
			}
		}

		var entries []WalletEntry
		if refund := order.RefundableRemaining(); refund > 0 {
			entries = append(entries, WalletEntry{
				Type:        domain.WalletCredit,
				Amount:      refund,
				OrderID:     order.ID,
				Reason:      domain.WalletReasonOrderCancel,
				Description: "Refund for cancelled order " + order.OrderNumber,
			})
			refunded = refund
		}
		settleCancelledPayment(&order, refunded)
		order.Status = domain.OrderStatusCancelled
		order.CancelReason = reason
		order.CanceledAt = valuePtr(now)
		order.UpdatedAt = now

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if len(entries) > 0 {
			if _, err := s.wallets.Post(txCtx, order.UserID, entries...); err != nil {
				return err
			}
		}
		return s.coupons.Release(txCtx, order)
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "cancelled", operationError)
		return Order{}, err
	}

	s.metrics.RecordOrderOperation(ctx, "cancelled", operationSuccess)
	s.logger(ctx, orderEventCancelled, map[string]any{"orderId": order.ID, "refunded": refunded, "reason": reason})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        userID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"reason": reason, "refunded": refunded},
	})
	return order, nil
}

func (s *orderService) CancelItem(ctx context.Context, cmd CancelItemCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || orderID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: user id, order id and item id are required", ErrOrderInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonLength)

	var order Order
	var previous domain.OrderStatus
	var refunded int64
	cascaded := false
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.ownedOrder(txCtx, userID, orderID)
		if err != nil {
			return err
		}
		if !current.Cancellable() {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, current.Status)
		}
		order = current
		previous = order.Status
		idx := order.ItemIndex(itemID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrOrderItemNotFound, itemID)
		}
		item := order.Items[idx]
		if item.Status == domain.ItemStatusCancelled {
			return fmt.Errorf("%w: %s", ErrOrderItemAlreadyCancelled, itemID)
		}
		if !item.Active() {
			return fmt.Errorf("%w: item is %s", ErrOrderNotCancellable, item.Status)
		}
		now := s.clock()

		if order.StockCommitted {
			if err := s.catalog.RestoreStock(txCtx, domain.StockLines([]OrderItem{item})); err != nil {
				return fmt.Errorf("%w: restore stock: %v", ErrOrderUnavailable, err)
			}
		}
		item.Recalculate()
		order.Items[idx].Status = domain.ItemStatusCancelled
		order.Items[idx].CanceledAt = valuePtr(now)

		remaining := order.RefundableRemaining()
		var entries []WalletEntry
		if credit := minInt64(item.Subtotal, remaining); credit > 0 {
			entries = append(entries, WalletEntry{
				Type:        domain.WalletCredit,
				Amount:      credit,
				OrderID:     order.ID,
				Reason:      domain.WalletReasonItemCancel,
				Description: fmt.Sprintf("Refund for %s in order %s", item.ProductName, order.OrderNumber),
			})
			refunded = credit
		}

		order.Recalculate()
		order.UpdatedAt = now
		if len(order.ActiveItems()) == 0 {
			cascaded = true
			if rest := remaining - refunded; rest > 0 {
				entries = append(entries, WalletEntry{
					Type:        domain.WalletCredit,
					Amount:      rest,
					OrderID:     order.ID,
					Reason:      domain.WalletReasonOrderCancel,
					Description: "Refund for cancelled order " + order.OrderNumber,
				})
				refunded += rest
			}
			settleCancelledPayment(&order, refunded)
			order.Status = domain.OrderStatusCancelled
			order.CancelReason = reasonAllItemsCancelled
			order.CanceledAt = valuePtr(now)
		} else {
			order.RefundedAmount += refunded
			if !order.Paid && order.PaymentMethod == domain.PaymentMethodOnline {
				// The gateway order carries the old amount; a retry opens a new one.
				order.GatewayOrderID = ""
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if len(entries) > 0 {
			if _, err := s.wallets.Post(txCtx, order.UserID, entries...); err != nil {
				return err
			}
		}
		if cascaded {
			return s.coupons.Release(txCtx, order)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "item_cancelled", operationError)
		return Order{}, err
	}

	s.metrics.RecordOrderOperation(ctx, "item_cancelled", operationSuccess)
	s.logger(ctx, orderEventItemCancelled, map[string]any{"orderId": order.ID, "itemId": itemID, "refunded": refunded, "cascaded": cascaded})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventItemCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        userID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"itemId": itemID, "reason": reason, "refunded": refunded},
	})
	if cascaded {
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:           orderEventCancelled,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(previous),
			CurrentStatus:  string(order.Status),
			ActorID:        userID,
			OccurredAt:     order.UpdatedAt,
			Metadata:       map[string]any{"reason": reasonAllItemsCancelled, "refunded": order.RefundedAmount},
		})
	}
	return order, nil
}

// settleCancelledPayment marks a cancelled order refunded when money was
// collected and failed otherwise.
func settleCancelledPayment(order *Order, refunded int64) {
	if order.Paid {
		order.RefundedAmount += refunded
		order.PaymentStatus = domain.PaymentStatusRefunded
		order.Paid = false
		return
	}
	order.PaymentStatus = domain.PaymentStatusFailed
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))

	var order Order
	var previous domain.OrderStatus
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if !domain.CanTransition(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, current.Status, target)
		}
		order = current
		previous = order.Status
		now := s.clock()
		order.Status = target
		order.UpdatedAt = now
		if target == domain.OrderStatusDelivered {
			order.DeliveredAt = valuePtr(now)
			if !order.Paid {
				order.Paid = true
				order.PaymentStatus = domain.PaymentStatusPaid
				order.AmountPaid = order.Total
				order.PaidAt = valuePtr(now)
			}
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "status_changed", operationError)
		return Order{}, err
	}

	s.metrics.RecordOrderOperation(ctx, "status_changed", operationSuccess)
	s.logger(ctx, orderEventStatusChanged, map[string]any{"orderId": order.ID, "from": string(previous), "to": string(order.Status), "actorId": cmd.ActorID})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func (s *orderService) Stats(ctx context.Context) (OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return OrderStats{}, mapOrderRepositoryError(err)
	}
	if stats.ByPaymentStatus == nil {
		stats.ByPaymentStatus = map[domain.PaymentStatus]int{}
	}
	return stats, nil
}

// ExpireUnpaid cancels online orders whose payment was never completed.
// One failing order does not stop the sweep.
func (s *orderService) ExpireUnpaid(ctx context.Context, now time.Time) (ExpireUnpaidResult, error) {
	if now.IsZero() {
		now = s.clock()
	}
	cutoff := now.UTC().Add(-s.unpaidTTL)
	candidates, err := s.orders.ListUnpaidOnline(ctx, cutoff, expirySweepBatchSize)
	if err != nil {
		return ExpireUnpaidResult{}, mapOrderRepositoryError(err)
	}

	result := ExpireUnpaidResult{Expired: []string{}, Failed: map[string]string{}}
	for _, candidate := range candidates {
		order, expired, err := s.expireOne(ctx, candidate.ID)
		if err != nil {
			result.Failed[candidate.ID] = err.Error()
			s.metrics.RecordOrderOperation(ctx, "expired", operationError)
			s.logger(ctx, "order.expire.failed", map[string]any{"orderId": candidate.ID, "error": err.Error()})
			continue
		}
		if !expired {
			continue
		}
		result.Expired = append(result.Expired, order.ID)
		s.metrics.RecordOrderOperation(ctx, "expired", operationSuccess)
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:           orderEventExpired,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(domain.OrderStatusPending),
			CurrentStatus:  string(order.Status),
			ActorID:        "system",
			OccurredAt:     order.UpdatedAt,
			Metadata:       map[string]any{"reason": reasonPaymentIncomplete},
		})
	}
	s.logger(ctx, "order.expire.sweep", map[string]any{"cutoff": cutoff, "expired": len(result.Expired), "failed": len(result.Failed)})
	return result, nil
}

func (s *orderService) expireOne(ctx context.Context, orderID string) (Order, bool, error) {
	var order Order
	expired := false
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if current.Status != domain.OrderStatusPending || current.Paid || current.PaymentMethod != domain.PaymentMethodOnline {
			return nil
		}
		order = current
		now := s.clock()
		for i := range order.Items {
			if order.Items[i].Active() {
				order.Items[i].Status = domain.ItemStatusCancelled
				order.Items[i].CanceledAt = valuePtr(now)
			}
		}
		order.Status = domain.OrderStatusCancelled
		order.PaymentStatus = domain.PaymentStatusFailed
		order.CancelReason = reasonPaymentIncomplete
		order.CanceledAt = valuePtr(now)
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		expired = true
		return s.coupons.Release(txCtx, order)
	})
	return order, expired, err
}

func (s *orderService) ownedOrder(ctx context.Context, userID, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}
