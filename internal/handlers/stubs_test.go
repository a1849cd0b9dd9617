package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/services"
)

var errStubNotImplemented = errors.New("stub: not implemented")

func withUser(r *http.Request, uid string, roles ...string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeBody[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

type errorEnvelope struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details"`
}

func requireErrorCode(t *testing.T, body string, want string) {
	t.Helper()
	env := decodeBody[errorEnvelope](t, strings.NewReader(body))
	if env.Error != want {
		t.Fatalf("expected error code %q, got %q (%s)", want, env.Error, body)
	}
}

type stubCartService struct {
	getFunc    func(ctx context.Context, userID string) (services.CartView, error)
	addFunc    func(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error)
	updateFunc func(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error)
	removeFunc func(ctx context.Context, userID, variantID string) (services.CartView, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.CartView, error) {
	if s.getFunc == nil {
		return services.CartView{}, errStubNotImplemented
	}
	return s.getFunc(ctx, userID)
}

func (s *stubCartService) AddItem(ctx context.Context, cmd services.AddCartItemCommand) (services.CartView, error) {
	if s.addFunc == nil {
		return services.CartView{}, errStubNotImplemented
	}
	return s.addFunc(ctx, cmd)
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, cmd services.UpdateCartItemCommand) (services.CartView, error) {
	if s.updateFunc == nil {
		return services.CartView{}, errStubNotImplemented
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, variantID string) (services.CartView, error) {
	if s.removeFunc == nil {
		return services.CartView{}, errStubNotImplemented
	}
	return s.removeFunc(ctx, userID, variantID)
}

func (s *stubCartService) Clear(context.Context, string) error { return nil }

type stubCouponService struct {
	applyFunc  func(ctx context.Context, cmd services.ApplyCouponCommand) (services.PendingCoupon, error)
	removeFunc func(ctx context.Context, userID string) error
	listFunc   func(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
	createFunc func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error)
	updateFunc func(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error)
	toggleFunc func(ctx context.Context, couponID string) (services.Coupon, error)
}

func (s *stubCouponService) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (services.PendingCoupon, error) {
	if s.applyFunc == nil {
		return services.PendingCoupon{}, errStubNotImplemented
	}
	return s.applyFunc(ctx, cmd)
}

func (s *stubCouponService) RemoveCoupon(ctx context.Context, userID string) error {
	if s.removeFunc == nil {
		return nil
	}
	return s.removeFunc(ctx, userID)
}

func (s *stubCouponService) ActiveCoupon(context.Context, string) (*services.PendingCoupon, error) {
	return nil, nil
}

func (s *stubCouponService) Revalidate(context.Context, string, string, int64, int64) (services.Coupon, int64, error) {
	return services.Coupon{}, 0, errStubNotImplemented
}

func (s *stubCouponService) Redeem(context.Context, services.RedeemCouponCommand) error {
	return errStubNotImplemented
}

func (s *stubCouponService) Finalize(context.Context, services.Order) error { return nil }

func (s *stubCouponService) Release(context.Context, services.Order) error { return nil }

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Coupon]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.createFunc == nil {
		return services.Coupon{}, errStubNotImplemented
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpsertCouponCommand) (services.Coupon, error) {
	if s.updateFunc == nil {
		return services.Coupon{}, errStubNotImplemented
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubCouponService) ToggleCoupon(ctx context.Context, couponID string) (services.Coupon, error) {
	if s.toggleFunc == nil {
		return services.Coupon{}, errStubNotImplemented
	}
	return s.toggleFunc(ctx, couponID)
}

type stubCheckoutService struct {
	summaryFunc func(ctx context.Context, userID string) (services.CheckoutSummary, error)
	placeFunc   func(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacementResult, error)
	confirmFunc func(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error)
	retryFunc   func(ctx context.Context, userID, orderID string) (services.PlacementResult, error)
	failFunc    func(ctx context.Context, cmd services.MarkPaymentFailedCommand) (services.Order, error)
	webhookFunc func(ctx context.Context, provider string, payload []byte) error
}

func (s *stubCheckoutService) Summary(ctx context.Context, userID string) (services.CheckoutSummary, error) {
	if s.summaryFunc == nil {
		return services.CheckoutSummary{}, errStubNotImplemented
	}
	return s.summaryFunc(ctx, userID)
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlacementResult, error) {
	if s.placeFunc == nil {
		return services.PlacementResult{}, errStubNotImplemented
	}
	return s.placeFunc(ctx, cmd)
}

func (s *stubCheckoutService) ConfirmPayment(ctx context.Context, cmd services.ConfirmPaymentCommand) (services.Order, error) {
	if s.confirmFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.confirmFunc(ctx, cmd)
}

func (s *stubCheckoutService) RetryPayment(ctx context.Context, userID, orderID string) (services.PlacementResult, error) {
	if s.retryFunc == nil {
		return services.PlacementResult{}, errStubNotImplemented
	}
	return s.retryFunc(ctx, userID, orderID)
}

func (s *stubCheckoutService) MarkPaymentFailed(ctx context.Context, cmd services.MarkPaymentFailedCommand) (services.Order, error) {
	if s.failFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.failFunc(ctx, cmd)
}

func (s *stubCheckoutService) HandleWebhook(ctx context.Context, provider string, payload []byte) error {
	if s.webhookFunc == nil {
		return errStubNotImplemented
	}
	return s.webhookFunc(ctx, provider, payload)
}

type stubOrderService struct {
	listFunc       func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	getFunc        func(ctx context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	cancelItemFunc func(ctx context.Context, cmd services.CancelItemCommand) (services.Order, error)
	transitionFunc func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	statsFunc      func(ctx context.Context) (services.OrderStats, error)
	expireFunc     func(ctx context.Context, now time.Time) (services.ExpireUnpaidResult, error)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.Order]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) GetOrder(ctx context.Context, cmd services.GetOrderCommand) (services.OrderDetail, error) {
	if s.getFunc == nil {
		return services.OrderDetail{}, errStubNotImplemented
	}
	return s.getFunc(ctx, cmd)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.cancelFunc(ctx, cmd)
}

func (s *stubOrderService) CancelItem(ctx context.Context, cmd services.CancelItemCommand) (services.Order, error) {
	if s.cancelItemFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.cancelItemFunc(ctx, cmd)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFunc == nil {
		return services.Order{}, errStubNotImplemented
	}
	return s.transitionFunc(ctx, cmd)
}

func (s *stubOrderService) Stats(ctx context.Context) (services.OrderStats, error) {
	if s.statsFunc == nil {
		return services.OrderStats{}, errStubNotImplemented
	}
	return s.statsFunc(ctx)
}

func (s *stubOrderService) ExpireUnpaid(ctx context.Context, now time.Time) (services.ExpireUnpaidResult, error) {
	if s.expireFunc == nil {
		return services.ExpireUnpaidResult{}, errStubNotImplemented
	}
	return s.expireFunc(ctx, now)
}

type stubReturnService struct {
	requestOrderFunc func(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error)
	requestItemFunc  func(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error)
	approveFunc      func(ctx context.Context, cmd services.ReviewReturnCommand) (services.OrderReturn, error)
	rejectFunc       func(ctx context.Context, cmd services.ReviewReturnCommand) (services.OrderReturn, error)
	listFunc         func(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[services.OrderReturn], error)
}

func (s *stubReturnService) RequestOrderReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error) {
	if s.requestOrderFunc == nil {
		return services.OrderReturn{}, errStubNotImplemented
	}
	return s.requestOrderFunc(ctx, cmd)
}

func (s *stubReturnService) RequestItemReturn(ctx context.Context, cmd services.RequestReturnCommand) (services.OrderReturn, error) {
	if s.requestItemFunc == nil {
		return services.OrderReturn{}, errStubNotImplemented
	}
	return s.requestItemFunc(ctx, cmd)
}

func (s *stubReturnService) ApproveReturn(ctx context.Context, cmd services.ReviewReturnCommand) (services.OrderReturn, error) {
	if s.approveFunc == nil {
		return services.OrderReturn{}, errStubNotImplemented
	}
	return s.approveFunc(ctx, cmd)
}

func (s *stubReturnService) RejectReturn(ctx context.Context, cmd services.ReviewReturnCommand) (services.OrderReturn, error) {
	if s.rejectFunc == nil {
		return services.OrderReturn{}, errStubNotImplemented
	}
	return s.rejectFunc(ctx, cmd)
}

func (s *stubReturnService) ListReturns(ctx context.Context, filter services.ReturnListFilter) (domain.CursorPage[services.OrderReturn], error) {
	if s.listFunc == nil {
		return domain.CursorPage[services.OrderReturn]{}, errStubNotImplemented
	}
	return s.listFunc(ctx, filter)
}

func (s *stubReturnService) GetOrderReturns(context.Context, string, string) ([]services.OrderReturn, error) {
	return nil, nil
}

type stubWalletService struct {
	wallet services.Wallet
	txns   []services.WalletTransaction
	err    error
}

func (s *stubWalletService) GetWallet(_ context.Context, userID string) (services.Wallet, error) {
	if s.err != nil {
		return services.Wallet{}, s.err
	}
	w := s.wallet
	w.UserID = userID
	return w, nil
}

func (s *stubWalletService) ListTransactions(_ context.Context, _ string, _ services.Pagination) (domain.CursorPage[services.WalletTransaction], error) {
	if s.err != nil {
		return domain.CursorPage[services.WalletTransaction]{}, s.err
	}
	return domain.CursorPage[services.WalletTransaction]{Items: s.txns}, nil
}

func (s *stubWalletService) Post(context.Context, string, ...services.WalletEntry) ([]services.WalletTransaction, error) {
	return nil, errStubNotImplemented
}

type stubAddressService struct {
	addresses  []services.Address
	defaultErr error
}

func (s *stubAddressService) ListAddresses(context.Context, string) ([]services.Address, error) {
	return s.addresses, nil
}

func (s *stubAddressService) SetDefault(_ context.Context, _ string, addressID string) ([]services.Address, error) {
	if s.defaultErr != nil {
		return nil, s.defaultErr
	}
	out := make([]services.Address, len(s.addresses))
	for i, addr := range s.addresses {
		addr.IsDefault = addr.ID == addressID
		out[i] = addr
	}
	return out, nil
}

func (s *stubAddressService) Resolve(context.Context, string, string) (services.Address, error) {
	return services.Address{}, errStubNotImplemented
}

type stubCatalogService struct {
	upsertFunc func(ctx context.Context, cmd services.UpsertOfferCommand) (services.Offer, error)
	deleteFunc func(ctx context.Context, kind domain.OfferKind, targetID string) error
}

func (s *stubCatalogService) UpsertOffer(ctx context.Context, cmd services.UpsertOfferCommand) (services.Offer, error) {
	if s.upsertFunc == nil {
		return services.Offer{}, errStubNotImplemented
	}
	return s.upsertFunc(ctx, cmd)
}

func (s *stubCatalogService) DeleteOffer(ctx context.Context, kind domain.OfferKind, targetID string) error {
	if s.deleteFunc == nil {
		return errStubNotImplemented
	}
	return s.deleteFunc(ctx, kind, targetID)
}

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}
