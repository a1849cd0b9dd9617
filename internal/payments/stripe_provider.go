package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeProviderName is the registration key of the Stripe gateway.
const StripeProviderName = "stripe"

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger

	intents stripePaymentIntentAPI
}

// StripeProvider implements Provider with Stripe Payment Intents. The intent
// ID doubles as the gateway order ID.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// CreateOrder creates a Payment Intent for the order total.
func (p *StripeProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("stripe: amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	params.AddMetadata("receipt", req.Receipt)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"receipt":       req.Receipt,
	})
	return GatewayOrder{
		ID:           intent.ID,
		Provider:     StripeProviderName,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
		ClientSecret: intent.ClientSecret,
	}, nil
}

// VerifyPayment looks the intent up and accepts it only once it succeeded.
// The signature field is not used by Stripe.
func (p *StripeProvider) VerifyPayment(ctx context.Context, req VerifyRequest) (PaymentDetails, error) {
	intentID := strings.TrimSpace(req.GatewayOrderID)
	if intentID == "" {
		return PaymentDetails{}, fmt.Errorf("%w: payment intent id is required", ErrVerificationFailed)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(intentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	details := stripePaymentDetails(intent)
	if details.Status != StatusSucceeded {
		return details, fmt.Errorf("%w: payment intent status %s", ErrVerificationFailed, intent.Status)
	}
	return details, nil
}

// ParseWebhook decodes payment_intent.succeeded and payment_intent.payment_failed events.
func (p *StripeProvider) ParseWebhook(payload []byte) (WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode webhook: %w", err)
	}
	var status Status
	switch event.Type {
	case "payment_intent.succeeded":
		status = StatusSucceeded
	case "payment_intent.payment_failed":
		status = StatusFailed
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnknownWebhookEvent, event.Type)
	}
	if event.Data == nil {
		return WebhookEvent{}, errors.New("stripe: webhook missing data")
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out := WebhookEvent{
		ID:             event.ID,
		Status:         status,
		GatewayOrderID: intent.ID,
		PaymentID:      intent.ID,
		Metadata:       intent.Metadata,
	}
	if intent.LastPaymentError != nil {
		out.Reason = intent.LastPaymentError.Msg
	}
	return out, nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}
	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}
	paymentID := intent.ID
	if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
		paymentID = intent.LatestCharge.ID
	}
	return PaymentDetails{
		Provider:       StripeProviderName,
		GatewayOrderID: intent.ID,
		PaymentID:      paymentID,
		Status:         status,
		Amount:         intent.Amount,
		Currency:       strings.ToUpper(string(intent.Currency)),
	}
}
