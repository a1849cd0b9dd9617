package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/payments"
	"github.com/dingdong-ecommerce/api/internal/platform/config"
	"github.com/dingdong-ecommerce/api/internal/platform/observability"
	"github.com/dingdong-ecommerce/api/internal/repositories"
	"github.com/dingdong-ecommerce/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Cart      services.CartService
	Coupons   services.CouponService
	Checkout  services.CheckoutService
	Orders    services.OrderService
	Returns   services.ReturnService
	Wallets   services.WalletService
	Addresses services.AddressService
	Catalog   services.CatalogService
	Counters  services.CounterService
	System    services.SystemService
}

// Infrastructure carries the collaborators that live outside the repository
// registry. Nil fields fall back to in-process defaults.
type Infrastructure struct {
	PendingCoupons repositories.PendingCouponStore
	Payments       services.PaymentGateway
	Events         services.OrderEventPublisher
	Metrics        services.OperationRecorder
	Logger         *zap.Logger
	Clock          func() time.Time
	Build          services.BuildInfo
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the
// in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	store := cfg.Storefront
	logFor := func(name string) services.Logger {
		return observability.ServiceLogger(infra.Logger.Named(name))
	}

	pending := infra.PendingCoupons
	if pending == nil {
		return Services{}, errors.New("pending coupon store is required")
	}

	pricer, err := services.NewOfferResolver(services.OfferResolverDeps{
		Catalog:  reg.Catalog(),
		Offers:   reg.Offers(),
		Delivery: domain.DeliveryRules{FreeThreshold: store.FreeDeliveryThreshold, Charge: store.DeliveryCharge},
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build offer resolver: %w", err)
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	addressSvc, err := services.NewAddressService(services.AddressServiceDeps{Addresses: reg.Addresses()})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}
	svc.Addresses = addressSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Offers: reg.Offers(),
		Clock:  clock,
		Logger: logFor("catalog"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	walletSvc, err := services.NewWalletService(services.WalletServiceDeps{
		Wallets:    reg.Wallets(),
		UnitOfWork: reg,
		Currency:   store.Currency,
		Clock:      clock,
		Metrics:    infra.Metrics,
		Logger:     logFor("wallet"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wallet service: %w", err)
	}
	svc.Wallets = walletSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:    reg.Coupons(),
		Carts:      reg.Carts(),
		Pending:    pending,
		Pricer:     pricer,
		PendingTTL: store.PendingCouponTTL,
		Clock:      clock,
		Logger:     logFor("coupons"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:          reg.Carts(),
		Catalog:        reg.Catalog(),
		Pricer:         pricer,
		PendingCoupons: pending,
		Clock:          clock,
		Logger:         logFor("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Catalog:    reg.Catalog(),
		Pricer:     pricer,
		Coupons:    couponSvc,
		Wallets:    walletSvc,
		Addresses:  addressSvc,
		Counters:   counterSvc,
		Payments:   infra.Payments,
		UnitOfWork: reg,
		Rules:      services.CheckoutRules{Currency: store.Currency, CODLimit: store.CODLimit},
		Clock:      clock,
		Events:     infra.Events,
		Metrics:    infra.Metrics,
		Logger:     logFor("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:       reg.Orders(),
		Returns:      reg.Returns(),
		Catalog:      reg.Catalog(),
		Wallets:      walletSvc,
		Coupons:      couponSvc,
		UnitOfWork:   reg,
		ReturnWindow: store.ReturnWindow,
		UnpaidTTL:    store.UnpaidOrderTTL,
		Clock:        clock,
		Events:       infra.Events,
		Metrics:      infra.Metrics,
		Logger:       logFor("orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Orders:       reg.Orders(),
		Returns:      reg.Returns(),
		Catalog:      reg.Catalog(),
		Wallets:      walletSvc,
		UnitOfWork:   reg,
		ReturnWindow: store.ReturnWindow,
		Clock:        clock,
		Events:       infra.Events,
		Metrics:      infra.Metrics,
		Logger:       logFor("returns"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// NewPaymentManager registers every gateway with credentials in cfg. It
// returns nil without error when none is configured, leaving online payment
// unavailable.
func NewPaymentManager(cfg config.PaymentsConfig, logger *zap.Logger) (*payments.Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := make(map[string]payments.Provider, 2)
	if strings.TrimSpace(cfg.RazorpayKeyID) != "" {
		razorpay, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
			KeyID:     cfg.RazorpayKeyID,
			KeySecret: cfg.RazorpayKeySecret,
			BaseURL:   cfg.RazorpayBaseURL,
			Logger:    observability.ServiceLogger(logger.Named(payments.RazorpayProviderName)),
		})
		if err != nil {
			return nil, fmt.Errorf("build razorpay provider: %w", err)
		}
		providers[payments.RazorpayProviderName] = razorpay
	}
	if strings.TrimSpace(cfg.StripeAPIKey) != "" {
		stripe, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.StripeAPIKey,
			Logger: payments.StripeLogger(observability.ServiceLogger(logger.Named(payments.StripeProviderName))),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers[payments.StripeProviderName] = stripe
	}
	if len(providers) == 0 {
		return nil, nil
	}

	opts := []payments.ManagerOption{}
	if _, ok := providers[cfg.DefaultProvider]; ok {
		opts = append(opts, payments.WithDefaultProvider(cfg.DefaultProvider))
	} else if _, ok := providers[payments.StripeProviderName]; ok && len(providers) == 1 {
		opts = append(opts, payments.WithDefaultProvider(payments.StripeProviderName))
	}
	return payments.NewManager(providers, opts...)
}

// ProviderNames lists the gateway keys registered for webhook routing.
func ProviderNames(cfg config.PaymentsConfig) []string {
	var names []string
	if strings.TrimSpace(cfg.RazorpayKeyID) != "" {
		names = append(names, payments.RazorpayProviderName)
	}
	if strings.TrimSpace(cfg.StripeAPIKey) != "" {
		names = append(names, payments.StripeProviderName)
	}
	return names
}
