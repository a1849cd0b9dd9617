package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/payments"
	"github.com/dingdong-ecommerce/api/internal/platform/textutil"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	orderEventPlaced        = "order.placed"
	orderEventPaid          = "order.paid"
	orderEventPaymentFailed = "order.payment_failed"
	orderEventRefundNeeded  = "payment.refund_required"

	reasonOutOfStockAtPayment = "Out of stock at payment"

	orderIDPrefix = "ord_"
	itemIDPrefix  = "itm_"

	defaultCODLimit  = 100000
	maxReasonLength  = 200
	defaultCurrency  = "INR"
	operationSuccess = "success"
	operationError   = "error"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutEmptyCart indicates there is nothing to order.
	ErrCheckoutEmptyCart = errors.New("checkout: cart is empty")
	// ErrCheckoutAddressRequired indicates no delivery address was given or set as default.
	ErrCheckoutAddressRequired = errors.New("checkout: delivery address required")
	// ErrCheckoutItemUnavailable indicates a cart line can no longer be bought.
	ErrCheckoutItemUnavailable = errors.New("checkout: item unavailable")
	// ErrCheckoutInsufficientStock indicates a cart line is short of stock.
	ErrCheckoutInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutCODLimit indicates the total is above the cash on delivery ceiling.
	ErrCheckoutCODLimit = errors.New("checkout: cash on delivery not available for this amount")
	// ErrCheckoutInsufficientWallet indicates the wallet balance does not cover the total.
	ErrCheckoutInsufficientWallet = errors.New("checkout: insufficient wallet balance")
	// ErrCheckoutCouponInvalid indicates the applied coupon no longer validates.
	ErrCheckoutCouponInvalid = errors.New("checkout: coupon no longer valid")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")

	// ErrPaymentOrderMismatch indicates the payment does not belong to a payable order.
	ErrPaymentOrderMismatch = errors.New("payment: order mismatch")
	// ErrPaymentSignatureInvalid indicates the gateway signature did not verify.
	ErrPaymentSignatureInvalid = errors.New("payment: signature invalid")
	// ErrPaymentOutOfStock indicates stock ran out before the payment was confirmed.
	ErrPaymentOutOfStock = errors.New("payment: items out of stock")
	// ErrPaymentGatewayUnavailable indicates the gateway could not be reached.
	ErrPaymentGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrPaymentNotRetryable indicates the order is not awaiting an online payment.
	ErrPaymentNotRetryable = errors.New("payment: order is not awaiting payment")

	errStockShort = errors.New("checkout: stock short")
)

// CheckoutRules holds the storefront limits applied at checkout.
type CheckoutRules struct {
	Currency string
	CODLimit int64
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Catalog     repositories.CatalogRepository
	Pricer      *OfferResolver
	Coupons     CouponService
	Wallets     WalletService
	Addresses   AddressService
	Counters    CounterService
	Payments    PaymentGateway
	UnitOfWork  repositories.UnitOfWork
	Rules       CheckoutRules
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     OperationRecorder
	Logger      Logger
}

type checkoutService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	catalog    repositories.CatalogRepository
	pricer     *OfferResolver
	coupons    CouponService
	wallets    WalletService
	addresses  AddressService
	counters   CounterService
	payments   PaymentGateway
	unitOfWork repositories.UnitOfWork
	rules      CheckoutRules
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	metrics    OperationRecorder
	logger     Logger
}

// NewCheckoutService validates dependencies and constructs the checkout service.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("checkout service: catalog repository is required")
	case deps.Pricer == nil:
		return nil, errors.New("checkout service: pricer is required")
	case deps.Coupons == nil:
		return nil, errors.New("checkout service: coupon service is required")
	case deps.Wallets == nil:
		return nil, errors.New("checkout service: wallet service is required")
	case deps.Addresses == nil:
		return nil, errors.New("checkout service: address service is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter service is required")
	}
	rules := deps.Rules
	if rules.CODLimit <= 0 {
		rules.CODLimit = defaultCODLimit
	}
	if rules.Currency = strings.ToUpper(strings.TrimSpace(rules.Currency)); rules.Currency == "" {
		rules.Currency = defaultCurrency
	}
	return &checkoutService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		catalog:    deps.Catalog,
		pricer:     deps.Pricer,
		coupons:    deps.Coupons,
		wallets:    deps.Wallets,
		addresses:  deps.Addresses,
		counters:   deps.Counters,
		payments:   deps.Payments,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		rules:      rules,
		clock:      utcClock(deps.Clock),
		newID:      idGenerator(deps.IDGenerator),
		events:     deps.Events,
		metrics:    recorderOrNoop(deps.Metrics),
		logger:     loggerOrNoop(deps.Logger),
	}, nil
}

func (s *checkoutService) Summary(ctx context.Context, userID string) (CheckoutSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckoutSummary{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	view, err := s.pricer.PriceCart(ctx, cart)
	if err != nil {
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	summary := CheckoutSummary{Cart: view}

	pending, err := s.coupons.ActiveCoupon(ctx, userID)
	if err != nil {
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if pending != nil && len(cart.Items) > 0 {
		if _, discount, err := s.coupons.Revalidate(ctx, userID, pending.CouponID, view.Total, view.DeliveryCharge); err == nil {
			pending.Discount = discount
			summary.Coupon = pending
			summary.CouponDiscount = discount
		}
	}
	summary.Total = view.Total + view.DeliveryCharge - summary.CouponDiscount
	if summary.Total < 0 {
		summary.Total = 0
	}

	if addr, err := s.addresses.Resolve(ctx, userID, ""); err == nil {
		summary.DefaultAddress = &addr
	} else if !errors.Is(err, ErrAddressNotFound) {
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	wallet, err := s.wallets.GetWallet(ctx, userID)
	if err != nil {
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	summary.WalletBalance = wallet.Balance
	summary.CODAllowed = summary.Total <= s.rules.CODLimit
	return summary, nil
}

func (s *checkoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacementResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return PlacementResult{}, fmt.Errorf("%w: user id is required", ErrCheckoutInvalidInput)
	}
	if !cmd.PaymentMethod.Valid() {
		return PlacementResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrCheckoutInvalidInput, cmd.PaymentMethod)
	}
	gateway := strings.ToLower(strings.TrimSpace(cmd.Gateway))
	if cmd.PaymentMethod == domain.PaymentMethodOnline {
		if s.payments == nil {
			return PlacementResult{}, fmt.Errorf("%w: online payments are not configured", ErrCheckoutUnavailable)
		}
		if gateway != "" && !s.payments.Has(gateway) {
			return PlacementResult{}, fmt.Errorf("%w: unsupported gateway %q", ErrCheckoutInvalidInput, gateway)
		}
	}

	order, err := s.prepareOrder(ctx, userID, cmd)
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "placed", operationError)
		return PlacementResult{}, err
	}
	order.Gateway = gateway

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		return s.persistPlacement(txCtx, order)
	})
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "placed", operationError)
		return PlacementResult{}, err
	}

	if err := s.coupons.RemoveCoupon(ctx, userID); err != nil {
		s.logger(ctx, "checkout.coupon.clear.failed", map[string]any{"userId": userID, "error": err.Error()})
	}
	s.metrics.RecordOrderOperation(ctx, "placed", operationSuccess)
	s.logger(ctx, orderEventPlaced, map[string]any{
		"orderId":       order.ID,
		"orderNumber":   order.OrderNumber,
		"paymentMethod": string(order.PaymentMethod),
		"total":         order.Total,
	})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    order.CreatedAt,
		Metadata: map[string]any{
			"paymentMethod": string(order.PaymentMethod),
			"total":         order.Total,
			"couponCode":    order.CouponCode,
		},
	})

	result := PlacementResult{Order: order}
	if order.PaymentMethod != domain.PaymentMethodOnline {
		return result, nil
	}
	gw, err := s.openGatewayOrder(ctx, &order, cmd.IdempotencyKey)
	result.Order = order
	if err != nil {
		return result, err
	}
	result.Gateway = &gw
	return result, nil
}

// prepareOrder prices the cart, applies the pending coupon and builds the order.
func (s *checkoutService) prepareOrder(ctx context.Context, userID string, cmd PlaceOrderCommand) (Order, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if len(cart.Items) == 0 {
		return Order{}, ErrCheckoutEmptyCart
	}
	addr, err := s.addresses.Resolve(ctx, userID, cmd.AddressID)
	switch {
	case errors.Is(err, ErrAddressNotFound):
		return Order{}, ErrCheckoutAddressRequired
	case err != nil:
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	view, err := s.pricer.PriceCart(ctx, cart)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	for _, line := range view.Lines {
		if !line.Available {
			return Order{}, fmt.Errorf("%w: %s", ErrCheckoutItemUnavailable, line.VariantID)
		}
		if !line.InStock {
			return Order{}, fmt.Errorf("%w: %s has %d left", ErrCheckoutInsufficientStock, line.VariantID, line.Stock)
		}
	}

	now := s.clock()
	order := Order{
		ID:             orderIDPrefix + s.newID(),
		UserID:         userID,
		Address:        addr.Snapshot(),
		Currency:       s.rules.Currency,
		DeliveryCharge: view.DeliveryCharge,
		PaymentMethod:  cmd.PaymentMethod,
		PaymentStatus:  domain.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		Items:          make([]OrderItem, 0, len(view.Lines)),
	}
	for _, line := range view.Lines {
		order.Items = append(order.Items, OrderItem{
			ID:           itemIDPrefix + s.newID(),
			VariantID:    line.VariantID,
			ProductID:    line.ProductID,
			ProductName:  line.ProductName,
			BrandID:      line.BrandID,
			ColorName:    line.ColorName,
			ColorCode:    line.ColorCode,
			Quantity:     line.Quantity,
			ListPrice:    line.ListPrice,
			Price:        line.Price,
			OfferPercent: line.OfferPercent,
			OfferKind:    line.OfferKind,
			Status:       domain.ItemStatusActive,
		})
	}

	pending, err := s.coupons.ActiveCoupon(ctx, userID)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if pending != nil {
		coupon, discount, err := s.coupons.Revalidate(ctx, userID, pending.CouponID, view.Total, view.DeliveryCharge)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrCheckoutCouponInvalid, err)
		}
		order.CouponID = coupon.ID
		order.CouponCode = coupon.Code
		order.CouponDiscount = discount
	}
	order.Recalculate()

	if order.PaymentMethod == domain.PaymentMethodCOD && order.Total > s.rules.CODLimit {
		return Order{}, ErrCheckoutCODLimit
	}

	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	order.OrderNumber = number

	switch order.PaymentMethod {
	case domain.PaymentMethodOnline:
		order.Status = domain.OrderStatusPending
	case domain.PaymentMethodWallet:
		order.Status = domain.OrderStatusConfirmed
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Paid = true
		order.AmountPaid = order.Total
		order.PaidAt = valuePtr(now)
		order.StockCommitted = true
	default:
		order.Status = domain.OrderStatusConfirmed
		order.StockCommitted = true
	}
	return order, nil
}

// persistPlacement writes the order and its side effects in one unit of work.
// Online orders take no stock until the payment is confirmed.
func (s *checkoutService) persistPlacement(ctx context.Context, order Order) error {
	online := order.PaymentMethod == domain.PaymentMethodOnline
	if order.PaymentMethod == domain.PaymentMethodWallet {
		wallet, err := s.wallets.GetWallet(ctx, order.UserID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		if wallet.Balance < order.Total {
			return fmt.Errorf("%w: balance %d, total %d", ErrCheckoutInsufficientWallet, wallet.Balance, order.Total)
		}
	}
	if !online {
		if err := s.catalog.DecrementStock(ctx, domain.StockLines(order.Items)); err != nil {
			return mapStockError(err, ErrCheckoutInsufficientStock, ErrCheckoutUnavailable)
		}
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	if order.PaymentMethod == domain.PaymentMethodWallet && order.Total > 0 {
		_, err := s.wallets.Post(ctx, order.UserID, WalletEntry{
			Type:        domain.WalletDebit,
			Amount:      order.Total,
			OrderID:     order.ID,
			Reason:      domain.WalletReasonOrderPayment,
			Description: "Payment for order " + order.OrderNumber,
		})
		if errors.Is(err, ErrWalletInsufficientFunds) {
			return fmt.Errorf("%w: %v", ErrCheckoutInsufficientWallet, err)
		}
		if err != nil {
			return err
		}
	}
	if order.CouponID != "" {
		status := domain.CouponUsageRedeemed
		if online {
			status = domain.CouponUsageReserved
		}
		err := s.coupons.Redeem(ctx, RedeemCouponCommand{CouponID: order.CouponID, UserID: order.UserID, OrderID: order.ID, Status: status})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCheckoutCouponInvalid, err)
		}
	}
	if !online {
		if err := s.carts.Clear(ctx, order.UserID); err != nil {
			return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
	}
	return nil
}

// openGatewayOrder creates the gateway order and stores its ID. A gateway
// failure marks the payment failed and leaves the order retryable.
func (s *checkoutService) openGatewayOrder(ctx context.Context, order *Order, idempotencyKey string) (payments.GatewayOrder, error) {
	gw, err := s.payments.CreateOrder(ctx, payments.PaymentContext{PreferredProvider: order.Gateway, Currency: order.Currency}, payments.OrderRequest{
		Amount:         order.Total,
		Currency:       order.Currency,
		Receipt:        order.OrderNumber,
		IdempotencyKey: idempotencyKey,
		Metadata:       map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber},
	})
	order.UpdatedAt = s.clock()
	if err != nil {
		s.logger(ctx, "payment.gateway.order.failed", map[string]any{"orderId": order.ID, "gateway": order.Gateway, "error": err.Error()})
		order.PaymentStatus = domain.PaymentStatusFailed
		if uerr := s.orders.Update(ctx, *order); uerr != nil {
			s.logger(ctx, "payment.gateway.order.persist_failed", map[string]any{"orderId": order.ID, "error": uerr.Error()})
		}
		return payments.GatewayOrder{}, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
	}
	order.Gateway = gw.Provider
	order.GatewayOrderID = gw.ID
	order.PaymentStatus = domain.PaymentStatusPending
	if err := s.orders.Update(ctx, *order); err != nil {
		return payments.GatewayOrder{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return gw, nil
}

func (s *checkoutService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (Order, error) {
	order, err := s.ownedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := checkAwaitingPayment(order); err != nil {
		return Order{}, err
	}
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if order.GatewayOrderID == "" || gatewayOrderID != order.GatewayOrderID {
		return Order{}, fmt.Errorf("%w: gateway order does not match", ErrPaymentOrderMismatch)
	}
	if s.payments == nil {
		return Order{}, fmt.Errorf("%w: online payments are not configured", ErrCheckoutUnavailable)
	}

	details, err := s.payments.VerifyPayment(ctx, order.Gateway, payments.VerifyRequest{
		GatewayOrderID: gatewayOrderID,
		PaymentID:      strings.TrimSpace(cmd.PaymentID),
		Signature:      strings.TrimSpace(cmd.Signature),
	})
	if errors.Is(err, payments.ErrVerificationFailed) {
		s.markFailed(ctx, order, "signature verification failed")
		s.metrics.RecordOrderOperation(ctx, "paid", operationError)
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentSignatureInvalid, err)
	}
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentGatewayUnavailable, err)
	}
	return s.completePayment(ctx, order.ID, details.PaymentID, cmd.UserID)
}

// completePayment takes stock and marks the order paid. When stock ran out
// the order is cancelled and flagged for a manual gateway refund.
func (s *checkoutService) completePayment(ctx context.Context, orderID, paymentID, actor string) (Order, error) {
	var order Order
	var previous domain.OrderStatus
	alreadyPaid := false
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		order = current
		if order.Paid {
			alreadyPaid = true
			return nil
		}
		if err := checkAwaitingPayment(order); err != nil {
			return err
		}
		if err := s.catalog.DecrementStock(txCtx, domain.StockLines(order.ActiveItems())); err != nil {
			return mapStockError(err, errStockShort, ErrCheckoutUnavailable)
		}
		now := s.clock()
		previous = order.Status
		order.Status = domain.OrderStatusConfirmed
		order.PaymentStatus = domain.PaymentStatusPaid
		order.Paid = true
		order.AmountPaid = order.Total
		order.PaidAt = valuePtr(now)
		order.GatewayPaymentID = paymentID
		order.StockCommitted = true
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := s.coupons.Finalize(txCtx, order); err != nil {
			return err
		}
		return s.carts.Clear(txCtx, order.UserID)
	})
	if errors.Is(err, errStockShort) {
		s.metrics.RecordOrderOperation(ctx, "paid", operationError)
		if _, cerr := s.cancelUnfulfillable(ctx, orderID, paymentID, actor); cerr != nil {
			s.logger(ctx, "payment.refund_required.persist_failed", map[string]any{"orderId": orderID, "paymentId": paymentID, "error": cerr.Error()})
		}
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentOutOfStock, err)
	}
	if err != nil {
		s.metrics.RecordOrderOperation(ctx, "paid", operationError)
		return Order{}, err
	}
	if alreadyPaid {
		return order, nil
	}

	s.metrics.RecordOrderOperation(ctx, "paid", operationSuccess)
	s.logger(ctx, orderEventPaid, map[string]any{"orderId": order.ID, "paymentId": paymentID, "amount": order.AmountPaid})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"gateway": order.Gateway, "paymentId": paymentID, "amount": order.AmountPaid},
	})
	return order, nil
}

// cancelUnfulfillable cancels an order whose captured payment cannot be
// honoured. The payment id is kept so the charge can be refunded at the gateway.
func (s *checkoutService) cancelUnfulfillable(ctx context.Context, orderID, paymentID, actor string) (Order, error) {
	var order Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapOrderRepositoryError(err)
		}
		if err := checkAwaitingPayment(current); err != nil {
			return err
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
		order.GatewayPaymentID = paymentID
		order.CancelReason = reasonOutOfStockAtPayment
		order.CanceledAt = valuePtr(now)
		order.UpdatedAt = now
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return s.coupons.Release(txCtx, order)
	})
	if err != nil {
		return Order{}, err
	}

	fields := map[string]any{"orderId": order.ID, "gateway": order.Gateway, "paymentId": paymentID, "amount": order.Total}
	s.logger(ctx, orderEventRefundNeeded, fields)
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           orderEventRefundNeeded,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(domain.OrderStatusPending),
		CurrentStatus:  string(order.Status),
		ActorID:        actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       map[string]any{"gateway": order.Gateway, "paymentId": paymentID, "amount": order.Total, "reason": reasonOutOfStockAtPayment},
	})
	return order, nil
}

func (s *checkoutService) RetryPayment(ctx context.Context, userID, orderID string) (PlacementResult, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return PlacementResult{}, err
	}
	if err := checkAwaitingPayment(order); err != nil {
		return PlacementResult{}, err
	}
	if s.payments == nil {
		return PlacementResult{}, fmt.Errorf("%w: online payments are not configured", ErrCheckoutUnavailable)
	}
	gw, err := s.openGatewayOrder(ctx, &order, "")
	if err != nil {
		return PlacementResult{Order: order}, err
	}
	s.logger(ctx, "payment.retry", map[string]any{"orderId": order.ID, "gatewayOrderId": gw.ID})
	return PlacementResult{Order: order, Gateway: &gw}, nil
}

func (s *checkoutService) MarkPaymentFailed(ctx context.Context, cmd MarkPaymentFailedCommand) (Order, error) {
	order, err := s.ownedOrder(ctx, cmd.UserID, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := checkAwaitingPayment(order); err != nil {
		return Order{}, err
	}
	reason := textutil.PlainText(cmd.Reason, maxReasonLength)
	if reason == "" {
		reason = "reported by customer"
	}
	return s.markFailed(ctx, order, reason), nil
}

func (s *checkoutService) HandleWebhook(ctx context.Context, provider string, payload []byte) error {
	if s.payments == nil {
		return fmt.Errorf("%w: online payments are not configured", ErrCheckoutUnavailable)
	}
	event, err := s.payments.ParseWebhook(provider, payload)
	if errors.Is(err, payments.ErrUnknownWebhookEvent) {
		s.logger(ctx, "payment.webhook.ignored", map[string]any{"provider": provider, "error": err.Error()})
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	orderID := strings.TrimSpace(event.Metadata["orderId"])
	if orderID == "" {
		return fmt.Errorf("%w: webhook carries no order id", ErrPaymentOrderMismatch)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return mapOrderRepositoryError(err)
	}
	if order.GatewayOrderID != event.GatewayOrderID {
		return fmt.Errorf("%w: gateway order does not match", ErrPaymentOrderMismatch)
	}

	switch event.Status {
	case payments.StatusSucceeded:
		_, err := s.completePayment(ctx, order.ID, event.PaymentID, "webhook:"+provider)
		if errors.Is(err, ErrPaymentOutOfStock) || errors.Is(err, ErrPaymentNotRetryable) {
			s.logger(ctx, "payment.webhook.unapplied", map[string]any{"orderId": order.ID, "error": err.Error()})
			return nil
		}
		return err
	case payments.StatusFailed:
		if checkAwaitingPayment(order) != nil {
			return nil
		}
		reason := textutil.PlainText(event.Reason, maxReasonLength)
		if reason == "" {
			reason = "reported by gateway"
		}
		s.markFailed(ctx, order, reason)
	}
	return nil
}

// markFailed records a failed payment attempt; the order stays pending so the
// customer can retry.
func (s *checkoutService) markFailed(ctx context.Context, order Order, reason string) Order {
	order.PaymentStatus = domain.PaymentStatusFailed
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		s.logger(ctx, "payment.failed.persist_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return order
	}
	s.logger(ctx, orderEventPaymentFailed, map[string]any{"orderId": order.ID, "reason": reason})
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:          orderEventPaymentFailed,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		OccurredAt:    order.UpdatedAt,
		Metadata:      map[string]any{"reason": reason},
	})
	return order
}

func (s *checkoutService) ownedOrder(ctx context.Context, userID, orderID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	orderID = strings.TrimSpace(orderID)
	if userID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: user id and order id are required", ErrCheckoutInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// checkAwaitingPayment reports whether an online order can still be paid.
func checkAwaitingPayment(order Order) error {
	switch {
	case order.PaymentMethod != domain.PaymentMethodOnline:
		return fmt.Errorf("%w: order is not paid online", ErrPaymentNotRetryable)
	case order.Paid || order.PaymentStatus == domain.PaymentStatusPaid:
		return fmt.Errorf("%w: order already paid", ErrPaymentNotRetryable)
	case order.Status != domain.OrderStatusPending:
		return fmt.Errorf("%w: order is %s", ErrPaymentNotRetryable, order.Status)
	}
	return nil
}

// mapStockError turns a repository StockError into short, anything else into unavailable.
func mapStockError(err, short, unavailable error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Code == repositories.StockErrorInsufficient || stockErr.Code == repositories.StockErrorVariantNotFound {
			return fmt.Errorf("%w: %s requested %d, available %d", short, stockErr.VariantID, stockErr.Requested, stockErr.Available)
		}
		return fmt.Errorf("%w: %v", short, err)
	}
	return fmt.Errorf("%w: %v", unavailable, err)
}
