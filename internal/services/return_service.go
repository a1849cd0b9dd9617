package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/textutil"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	returnEventRequested = "order.return_requested"
	returnEventApproved  = "order.return_approved"
	returnEventRejected  = "order.return_rejected"

	returnIDPrefix       = "ret_"
	maxDescriptionLength = 500
	maxReviewNoteLength  = 500
)

var (
	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnNotEligible indicates the order or item cannot be returned.
	ErrReturnNotEligible = errors.New("return: not eligible")
	// ErrReturnWindowClosed indicates the return window has passed.
	ErrReturnWindowClosed = errors.New("return: return window closed")
	// ErrReturnAlreadyRequested indicates a return already covers the order or item.
	ErrReturnAlreadyRequested = errors.New("return: already requested")
	// ErrReturnNotPending indicates the return was already reviewed.
	ErrReturnNotPending = errors.New("return: already reviewed")
	// ErrReturnUnavailable indicates the return store could not be reached.
	ErrReturnUnavailable = errors.New("return: unavailable")
)

// ReturnServiceDeps bundles collaborators required by the return service.
type ReturnServiceDeps struct {
	Orders       repositories.OrderRepository
	Returns      repositories.ReturnRepository
	Catalog      repositories.CatalogRepository
	Wallets      WalletService
	UnitOfWork   repositories.UnitOfWork
	ReturnWindow time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Events       OrderEventPublisher
	Metrics      OperationRecorder
	Logger       Logger
}

type returnService struct {
	orders     repositories.OrderRepository
	returns    repositories.ReturnRepository
	catalog    repositories.CatalogRepository
	wallets    WalletService
	unitOfWork repositories.UnitOfWork
	window     time.Duration
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	metrics    OperationRecorder
	logger     Logger
}

// NewReturnService validates dependencies and constructs the return service.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("return service: order repository is required")
	case deps.Returns == nil:
		return nil, errors.New("return service: return repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("return service: catalog repository is required")
	case deps.Wallets == nil:
		return nil, errors.New("return service: wallet service is required")
	}
	window := deps.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}
	return &returnService{
		orders:     deps.Orders,
		returns:    deps.Returns,
		catalog:    deps.Catalog,
		wallets:    deps.Wallets,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		window:     window,
		clock:      utcClock(deps.Clock),
		newID:      idGenerator(deps.IDGenerator),
		events:     deps.Events,
		metrics:    recorderOrNoop(deps.Metrics),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

type eligibility struct {
	order bool
	items []string
}

// returnEligibility decides which returns may still be requested. An
// order-level return excludes every other return except rejected ones and an
// item may be returned once.
func returnEligibility(order Order, returns []OrderReturn) eligibility {
	orderBlocked := false
	itemBlocked := map[string]bool{}
	for _, ret := range returns {
		live := ret.Status != domain.ReturnStatusRejected
		if ret.IsItemReturn() {
			itemBlocked[ret.ItemID] = true
			if live {
				orderBlocked = true
			}
			continue
		}
		orderBlocked = true
		if live {
			for _, item := range order.Items {
				itemBlocked[item.ID] = true
			}
		}
	}
	out := eligibility{items: []string{}}
	for _, item := range order.ActiveItems() {
		if !itemBlocked[item.ID] {
			out.items = append(out.items, item.ID)
		}
	}
	out.order = !orderBlocked && len(order.ActiveItems()) > 0
	return out
}

func (s *returnService) RequestOrderReturn(ctx context.Context, cmd RequestReturnCommand) (OrderReturn, error) {
	cmd.ItemID = ""
	return s.request(ctx, cmd)
}

func (s *returnService) RequestItemReturn(ctx context.Context, cmd RequestReturnCommand) (OrderReturn, error) {
	if strings.TrimSpace(cmd.ItemID) == "" {
		return OrderReturn{}, fmt.Errorf("%w: item id is required", ErrReturnInvalidInput)
	}
	return s.request(ctx, cmd)
}

func (s *returnService) request(ctx context.Context, cmd RequestReturnCommand) (OrderReturn, error) {
	userID := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || orderID == "" {
		return OrderReturn{}, fmt.Errorf("%w: user id and order id are required", ErrReturnInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonLength)
	if reason == "" {
		return OrderReturn{}, fmt.Errorf("%w: reason is required", ErrReturnInvalidInput)
	}

	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return OrderReturn{}, err
	}
	now := s.clock()
	if order.Status != domain.OrderStatusDelivered || order.DeliveredAt == nil {
		return OrderReturn{}, fmt.Errorf("%w: order is %s", ErrReturnNotEligible, order.Status)
	}
	if !order.WithinReturnWindow(now, s.window) {
		return OrderReturn{}, ErrReturnWindowClosed
	}
	existing, err := s.returns.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderReturn{}, fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
	}
	allowed := returnEligibility(order, existing)

	ret := OrderReturn{
		ID:          returnIDPrefix + s.newID(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      userID,
		ItemID:      itemID,
		Reason:      reason,
		Description: textutil.PlainText(cmd.Description, maxDescriptionLength),
		Status:      domain.ReturnStatusPending,
		RequestedAt: now,
	}
	if itemID == "" {
		if !allowed.order {
			return OrderReturn{}, fmt.Errorf("%w: order %s", ErrReturnAlreadyRequested, order.OrderNumber)
		}
		ret.RefundAmount = order.RefundableRemaining()
	} else {
		idx := order.ItemIndex(itemID)
		if idx < 0 {
			return OrderReturn{}, fmt.Errorf("%w: %s", ErrOrderItemNotFound, itemID)
		}
		item := order.Items[idx]
		if !item.Active() {
			return OrderReturn{}, fmt.Errorf("%w: item is %s", ErrReturnNotEligible, item.Status)
		}
		if !slices.Contains(allowed.items, itemID) {
			return OrderReturn{}, fmt.Errorf("%w: item %s", ErrReturnAlreadyRequested, itemID)
		}
		item.Recalculate()
		ret.RefundAmount = minInt64(item.Subtotal, order.RefundableRemaining())
	}

	if err := s.returns.Insert(ctx, ret); err != nil {
		return OrderReturn{}, mapReturnRepositoryError(err)
	}
	s.metrics.RecordOrderOperation(ctx, "return_requested", operationSuccess)
	s.logger(ctx, returnEventRequested, map[string]any{"orderId": order.ID, "returnId": ret.ID, "itemId": itemID})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          returnEventRequested,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        userID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
		Metadata:      map[string]any{"returnId": ret.ID, "itemId": itemID, "reason": reason},
	})
	return ret, nil
}

func (s *returnService) ApproveReturn(ctx context.Context, cmd ReviewReturnCommand) (OrderReturn, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return OrderReturn{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	var ret OrderReturn
	var order Order
	var previous domain.OrderStatus
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.returns.FindByID(txCtx, returnID)
		if err != nil {
			return mapReturnRepositoryError(err)
		}
		if current.Status != domain.ReturnStatusPending {
			return fmt.Errorf("%w: return is %s", ErrReturnNotPending, current.Status)
		}
		ret = current
		order, err = s.orders.FindByID(txCtx, ret.OrderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		previous = order.Status
		now := s.clock()

		var returned []OrderItem
		if ret.IsItemReturn() {
			idx := order.ItemIndex(ret.ItemID)
			if idx < 0 || !order.Items[idx].Active() {
				return fmt.Errorf("%w: item %s is no longer active", ErrReturnNotEligible, ret.ItemID)
			}
			returned = append(returned, order.Items[idx])
		} else {
			returned = order.ActiveItems()
		}
		if len(returned) > 0 {
			if err := s.catalog.RestoreStock(txCtx, domain.StockLines(returned)); err != nil {
				return fmt.Errorf("%w: restore stock: %v", ErrReturnUnavailable, err)
			}
		}
		for _, item := range returned {
			idx := order.ItemIndex(item.ID)
			order.Items[idx].Status = domain.ItemStatusReturned
			order.Items[idx].ReturnedAt = valuePtr(now)
		}

		remaining := order.RefundableRemaining()
		credit := minInt64(ret.RefundAmount, remaining)
		if credit < 0 {
			credit = 0
		}
		if ret.IsItemReturn() {
			order.Recalculate()
		}
		if len(order.ActiveItems()) == 0 {
			order.Status = domain.OrderStatusReturned
		}
		order.RefundedAmount += credit
		if order.Paid && remaining-credit == 0 {
			order.PaymentStatus = domain.PaymentStatusRefunded
			order.Paid = false
		}
		order.UpdatedAt = now

		ret.Status = domain.ReturnStatusApproved
		ret.RefundAmount = credit
		ret.ReviewerID = strings.TrimSpace(cmd.ReviewerID)
		ret.ReviewNote = textutil.PlainText(cmd.Note, maxReviewNoteLength)
		ret.ReviewedAt = valuePtr(now)

		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.returns.Update(txCtx, ret); err != nil {
			return mapReturnRepositoryError(err)
		}
		if credit == 0 {
			return nil
		}
		reason := domain.WalletReasonOrderReturn
		description := "Refund for returned order " + order.OrderNumber
		if ret.IsItemReturn() {
			reason = domain.WalletReasonItemReturn
			description = fmt.Sprintf("Refund for returned item in order %s", order.OrderNumber)
		}
		_, err = s.wallets.Post(txCtx, order.UserID, WalletEntry{
			Type:        domain.WalletCredit,
			Amount:      credit,
			OrderID:     order.ID,
			Reason:      reason,
			Description: description,
		})
		return err
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "return_approved", operationError)
		return OrderReturn{}, err
	}

	s.metrics.RecordOrderOperation(ctx, "return_approved", operationSuccess)
	s.logger(ctx, returnEventApproved, map[string]any{"orderId": order.ID, "returnId": ret.ID, "refunded": ret.RefundAmount})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           returnEventApproved,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        ret.ReviewerID,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"returnId": ret.ID, "itemId": ret.ItemID, "refunded": ret.RefundAmount},
	})
	return ret, nil
}

func (s *returnService) RejectReturn(ctx context.Context, cmd ReviewReturnCommand) (OrderReturn, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return OrderReturn{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	var ret OrderReturn
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.returns.FindByID(txCtx, returnID)
		if err != nil {
			return mapReturnRepositoryError(err)
		}
		if current.Status != domain.ReturnStatusPending {
			return fmt.Errorf("%w: return is %s", ErrReturnNotPending, current.Status)
		}
		ret = current
		ret.Status = domain.ReturnStatusRejected
		ret.ReviewerID = strings.TrimSpace(cmd.ReviewerID)
		ret.ReviewNote = textutil.PlainText(cmd.Note, maxReviewNoteLength)
		ret.ReviewedAt = valuePtr(s.clock())
		return mapReturnRepositoryError(s.returns.Update(txCtx, ret))
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "return_rejected", operationError)
		return OrderReturn{}, err
	}
	s.metrics.RecordOrderOperation(ctx, "return_rejected", operationSuccess)
	s.logger(ctx, returnEventRejected, map[string]any{"orderId": ret.OrderID, "returnId": ret.ID})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:        returnEventRejected,
		OrderID:     ret.OrderID,
		OrderNumber: ret.OrderNumber,
		UserID:      ret.UserID,
		ActorID:     ret.ReviewerID,
		OccurredAt:  *ret.ReviewedAt,
		Metadata:    map[string]any{"returnId": ret.ID, "itemId": ret.ItemID},
	})
	return ret, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[OrderReturn], error) {
	page, err := s.returns.List(ctx, filter)
	if err != nil {
		if errors.Is(pageError(err), ErrInvalidPageToken) {
			return domain.CursorPage[OrderReturn]{}, ErrInvalidPageToken
		}
		return domain.CursorPage[OrderReturn]{}, mapReturnRepositoryError(err)
	}
	return page, nil
}

func (s *returnService) GetOrderReturns(ctx context.Context, userID, orderID string) ([]OrderReturn, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return nil, fmt.Errorf("%w: user id and order id are required", ErrReturnInvalidInput)
	}
	if _, err := s.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	returns, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapReturnRepositoryError(err)
	}
	return returns, nil
}

func (s *returnService) ownedOrder(ctx context.Context, userID, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func mapReturnRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnAlreadyRequested, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrReturnUnavailable, err)
		}
	}
	return err
}
