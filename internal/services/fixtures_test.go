package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/payments"
	"github.com/dingdong-ecommerce/api/internal/repositories/memory"
)

var storeOpenedAt = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

const (
	shopper      = "user-1"
	otherShopper = "user-2"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubGateway struct {
	createErr error
	verifyErr error
	parseErr  error
	event     payments.WebhookEvent
	requests  []payments.OrderRequest
	seq       int
}

func (g *stubGateway) CreateOrder(_ context.Context, _ payments.PaymentContext, req payments.OrderRequest) (payments.GatewayOrder, error) {
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return payments.GatewayOrder{}, g.createErr
	}
	g.seq++
	return payments.GatewayOrder{
		ID:       fmt.Sprintf("order_gw_%d", g.seq),
		Provider: payments.RazorpayProviderName,
		Amount:   req.Amount,
		Currency: req.Currency,
		KeyID:    "rzp_test",
	}, nil
}

func (g *stubGateway) VerifyPayment(_ context.Context, provider string, req payments.VerifyRequest) (payments.PaymentDetails, error) {
	if g.verifyErr != nil {
		return payments.PaymentDetails{}, g.verifyErr
	}
	return payments.PaymentDetails{
		Provider:       provider,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Status:         payments.StatusSucceeded,
	}, nil
}

func (g *stubGateway) ParseWebhook(string, []byte) (payments.WebhookEvent, error) {
	return g.event, g.parseErr
}

func (g *stubGateway) Has(provider string) bool {
	return provider == payments.RazorpayProviderName || provider == payments.StripeProviderName
}

// storefront wires every service over one in-memory store.
type storefront struct {
	t        *testing.T
	now      time.Time
	store    *memory.Store
	pending  *memory.PendingCouponStore
	events   *recordingPublisher
	gateway  *stubGateway
	carts    CartService
	coupons  CouponService
	wallets  WalletService
	checkout CheckoutService
	orders   OrderService
	returns  ReturnService
}

func newStorefront(t *testing.T) *storefront {
	t.Helper()
	sf := &storefront{t: t, now: storeOpenedAt, events: &recordingPublisher{}, gateway: &stubGateway{}}
	clock := func() time.Time { return sf.now }
	sf.store = memory.NewStore(memory.WithClock(clock), memory.WithSeed(memory.Seed{
		Categories: []domain.Category{{ID: "phones", Name: "Phones", Listed: true}},
		Brands:     []domain.Brand{{ID: "dong", Name: "Dong", Listed: true}},
		Products: []domain.Product{
			{ID: "p-lite", Name: "Dong Lite", BrandID: "dong", CategoryID: "phones", Listed: true},
			{ID: "p-pro", Name: "Dong Pro", BrandID: "dong", CategoryID: "phones", Listed: true},
			{ID: "p-max", Name: "Dong Max", BrandID: "dong", CategoryID: "phones", Listed: true},
			{ID: "p-fold", Name: "Dong Fold", BrandID: "dong", CategoryID: "phones", Listed: true},
		},
		Variants: []domain.Variant{
			{ID: "lite-black", ProductID: "p-lite", ColorName: "Black", Price: 15000, Stock: 10, Listed: true},
			{ID: "pro-blue", ProductID: "p-pro", ColorName: "Blue", Price: 30000, Stock: 5, Listed: true},
			{ID: "max-gold", ProductID: "p-max", ColorName: "Gold", Price: 45000, Stock: 2, Listed: true},
			{ID: "fold-grey", ProductID: "p-fold", ColorName: "Grey", Price: 120000, Stock: 3, Listed: true},
		},
		Coupons: []domain.Coupon{
			{ID: "cpn-save10", Code: "SAVE10", DiscountPercent: 10, Active: true, ValidFrom: storeOpenedAt.Add(-time.Hour)},
			{ID: "cpn-big", Code: "BIG20", DiscountPercent: 20, MinPurchase: 100000, Active: true},
		},
		Addresses: []domain.Address{{
			ID:        "addr-1",
			UserID:    shopper,
			IsDefault: true,
			OrderAddress: domain.OrderAddress{
				FullName: "Asha Rao", Phone: "9876543210", FlatHouse: "12B", AreaStreet: "MG Road",
				TownCity: "Kochi", State: "Kerala", Pincode: "682001",
			},
		}},
	}))
	sf.pending = memory.NewPendingCouponStore(clock)

	pricer, err := NewOfferResolver(OfferResolverDeps{
		Catalog:  sf.store.Catalog(),
		Offers:   sf.store.Offers(),
		Delivery: domain.DeliveryRules{FreeThreshold: 50000, Charge: 4000},
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("NewOfferResolver: %v", err)
	}
	sf.carts, err = NewCartService(CartServiceDeps{
		Carts: sf.store.Carts(), Catalog: sf.store.Catalog(), Pricer: pricer, PendingCoupons: sf.pending, Clock: clock,
	})
	mustConstruct(t, err)
	sf.coupons, err = NewCouponService(CouponServiceDeps{
		Coupons: sf.store.Coupons(), Carts: sf.store.Carts(), Pending: sf.pending, Pricer: pricer, Clock: clock,
	})
	mustConstruct(t, err)
	sf.wallets, err = NewWalletService(WalletServiceDeps{
		Wallets: sf.store.Wallets(), UnitOfWork: sf.store, Currency: "INR", Clock: clock,
	})
	mustConstruct(t, err)
	addresses, err := NewAddressService(AddressServiceDeps{Addresses: sf.store.Addresses()})
	mustConstruct(t, err)
	counters, err := NewCounterService(CounterServiceDeps{Repository: sf.store.Counters(), Clock: clock})
	mustConstruct(t, err)
	sf.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Orders:     sf.store.Orders(),
		Carts:      sf.store.Carts(),
		Catalog:    sf.store.Catalog(),
		Pricer:     pricer,
		Coupons:    sf.coupons,
		Wallets:    sf.wallets,
		Addresses:  addresses,
		Counters:   counters,
		Payments:   sf.gateway,
		UnitOfWork: sf.store,
		Rules:      CheckoutRules{Currency: "INR", CODLimit: 100000},
		Clock:      clock,
		Events:     sf.events,
	})
	mustConstruct(t, err)
	sf.orders, err = NewOrderService(OrderServiceDeps{
		Orders:     sf.store.Orders(),
		Returns:    sf.store.Returns(),
		Catalog:    sf.store.Catalog(),
		Wallets:    sf.wallets,
		Coupons:    sf.coupons,
		UnitOfWork: sf.store,
		UnpaidTTL:  30 * time.Minute,
		Clock:      clock,
		Events:     sf.events,
	})
	mustConstruct(t, err)
	sf.returns, err = NewReturnService(ReturnServiceDeps{
		Orders:     sf.store.Orders(),
		Returns:    sf.store.Returns(),
		Catalog:    sf.store.Catalog(),
		Wallets:    sf.wallets,
		UnitOfWork: sf.store,
		Clock:      clock,
		Events:     sf.events,
	})
	mustConstruct(t, err)
	return sf
}

func mustConstruct(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
}

func (sf *storefront) advance(d time.Duration) {
	sf.now = sf.now.Add(d)
}

func (sf *storefront) addToCart(userID, variantID string, qty int) {
	sf.t.Helper()
	if _, err := sf.carts.AddItem(context.Background(), AddCartItemCommand{UserID: userID, VariantID: variantID, Quantity: qty}); err != nil {
		sf.t.Fatalf("AddItem %s: %v", variantID, err)
	}
}

func (sf *storefront) fundWallet(userID string, amount int64) {
	sf.t.Helper()
	_, err := sf.wallets.Post(context.Background(), userID, WalletEntry{
		Type:   domain.WalletCredit,
		Amount: amount,
		Reason: domain.WalletReasonOrderReturn,
	})
	if err != nil {
		sf.t.Fatalf("fund wallet: %v", err)
	}
}

func (sf *storefront) balance(userID string) int64 {
	sf.t.Helper()
	wallet, err := sf.wallets.GetWallet(context.Background(), userID)
	if err != nil {
		sf.t.Fatalf("GetWallet: %v", err)
	}
	return wallet.Balance
}

func (sf *storefront) stock(variantID string) int {
	sf.t.Helper()
	detail, err := sf.store.Catalog().GetVariant(context.Background(), variantID)
	if err != nil {
		sf.t.Fatalf("GetVariant %s: %v", variantID, err)
	}
	return detail.Variant.Stock
}

func (sf *storefront) place(method domain.PaymentMethod) Order {
	sf.t.Helper()
	result, err := sf.checkout.PlaceOrder(context.Background(), PlaceOrderCommand{UserID: shopper, PaymentMethod: method})
	if err != nil {
		sf.t.Fatalf("PlaceOrder(%s): %v", method, err)
	}
	return result.Order
}

func (sf *storefront) order(orderID string) Order {
	sf.t.Helper()
	order, err := sf.store.Orders().FindByID(context.Background(), orderID)
	if err != nil {
		sf.t.Fatalf("FindByID %s: %v", orderID, err)
	}
	return order
}

// deliver walks an order through the admin transitions to delivered.
func (sf *storefront) deliver(orderID string) Order {
	sf.t.Helper()
	var order Order
	for _, status := range []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered} {
		var err error
		order, err = sf.orders.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: orderID, TargetStatus: status, ActorID: "admin-1"})
		if err != nil {
			sf.t.Fatalf("TransitionStatus(%s): %v", status, err)
		}
	}
	return order
}

func assertTotalInvariant(t *testing.T, order Order) {
	t.Helper()
	want := order.Subtotal + order.DeliveryCharge - order.DiscountAmount - order.CouponDiscount
	if order.Total != want {
		t.Fatalf("total %d does not match subtotal %d + delivery %d - discount %d - coupon %d",
			order.Total, order.Subtotal, order.DeliveryCharge, order.DiscountAmount, order.CouponDiscount)
	}
}
