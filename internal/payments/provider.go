package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrVerificationFailed is returned when a payment cannot be proven genuine.
	ErrVerificationFailed = errors.New("payments: verification failed")
	// ErrUnknownWebhookEvent is returned for webhook payloads the service ignores.
	ErrUnknownWebhookEvent = errors.New("payments: unknown webhook event")
)

// OrderRequest asks a gateway to open a payment for a placed order.
type OrderRequest struct {
	Amount         int64
	Currency       string
	Receipt        string
	IdempotencyKey string
	Metadata       map[string]string
}

// GatewayOrder is the gateway side handle returned to the client.
type GatewayOrder struct {
	ID           string
	Provider     string
	Amount       int64
	Currency     string
	KeyID        string
	ClientSecret string
}

// VerifyRequest carries what the client received from the gateway checkout.
type VerifyRequest struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// PaymentDetails normalises gateway specific fields for storage.
type PaymentDetails struct {
	Provider       string
	GatewayOrderID string
	PaymentID      string
	Status         Status
	Amount         int64
	Currency       string
}

// WebhookEvent is a normalised gateway notification. Metadata carries the
// notes attached when the gateway order was created.
type WebhookEvent struct {
	ID             string
	Status         Status
	GatewayOrderID string
	PaymentID      string
	Reason         string
	Metadata       map[string]string
}

// Provider defines the contract for gateway adapters to implement.
type Provider interface {
	CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error)
	// VerifyPayment returns ErrVerificationFailed when the payment is not genuine or not captured.
	VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error)
	ParseWebhook(payload []byte) (WebhookEvent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normalizeKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{providers: copyMap}
	if _, ok := copyMap[RazorpayProviderName]; ok {
		m.defaultProvider = RazorpayProviderName
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if provider := normalizeKey(ctx.PreferredProvider); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := normalizeKey(providerKey)
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := normalizeKey(m.defaultProvider); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Has reports whether a provider is registered under key.
func (m *Manager) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.providers[normalizeKey(key)]
	return ok
}

// CreateOrder delegates to the resolved provider.
func (m *Manager) CreateOrder(ctx context.Context, paymentCtx PaymentContext, req OrderRequest) (GatewayOrder, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := provider.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = key
	return order, nil
}

// VerifyPayment delegates to the provider that created the gateway order.
func (m *Manager) VerifyPayment(ctx context.Context, providerKey string, req VerifyRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(PaymentContext{PreferredProvider: providerKey})
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.VerifyPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// ParseWebhook decodes a webhook body for providerKey.
func (m *Manager) ParseWebhook(providerKey string, payload []byte) (WebhookEvent, error) {
	key := normalizeKey(providerKey)
	if m == nil || key == "" {
		return WebhookEvent{}, ErrUnsupportedProvider
	}
	provider, ok := m.providers[key]
	if !ok {
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	return provider.ParseWebhook(payload)
}

func normalizeKey(key string) string {
	return strings.TrimSpace(strings.ToLower(key))
}
