package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RazorpayProviderName is the registration key of the Razorpay gateway.
const RazorpayProviderName = "razorpay"

const (
	defaultRazorpayBaseURL = "https://api.razorpay.com"
	razorpayTimeout        = 10 * time.Second
)

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	KeyID      string
	KeySecret  string
	BaseURL    string
	HTTPClient *http.Client
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// RazorpayProvider creates orders over the Razorpay REST API and checks
// checkout signatures locally.
type RazorpayProvider struct {
	keyID   string
	secret  string
	baseURL string
	client  *http.Client
	logger  func(context.Context, string, map[string]any)
}

// NewRazorpayProvider constructs a RazorpayProvider.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	secret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || secret == "" {
		return nil, errors.New("razorpay: key id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: razorpayTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &RazorpayProvider{keyID: keyID, secret: secret, baseURL: baseURL, client: client, logger: logger}, nil
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a Razorpay order for the amount in minor units.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req OrderRequest) (GatewayOrder, error) {
	if req.Amount <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: strings.ToUpper(req.Currency),
		Receipt:  req.Receipt,
		Notes:    req.Metadata,
	})
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: encode order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: build request: %w", err)
	}
	httpReq.SetBasicAuth(p.keyID, p.secret)
	httpReq.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		httpReq.Header.Set("X-Razorpay-Idempotency-Key", key)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr razorpayError
		_ = json.Unmarshal(payload, &apiErr)
		return GatewayOrder{}, fmt.Errorf("razorpay: create order: status %d: %s", resp.StatusCode, apiErr.Error.Description)
	}
	var order razorpayOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return GatewayOrder{}, fmt.Errorf("razorpay: decode order: %w", err)
	}
	if order.ID == "" {
		return GatewayOrder{}, errors.New("razorpay: response missing order id")
	}

	p.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"gatewayOrderId": order.ID,
		"receipt":        req.Receipt,
		"amount":         order.Amount,
	})

	return GatewayOrder{
		ID:       order.ID,
		Provider: RazorpayProviderName,
		Amount:   order.Amount,
		Currency: strings.ToUpper(order.Currency),
		KeyID:    p.keyID,
	}, nil
}

// VerifyPayment checks the HMAC-SHA256 checkout signature over "order|payment".
func (p *RazorpayProvider) VerifyPayment(_ context.Context, req VerifyRequest) (PaymentDetails, error) {
	orderID := strings.TrimSpace(req.GatewayOrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	if orderID == "" || paymentID == "" || strings.TrimSpace(req.Signature) == "" {
		return PaymentDetails{}, fmt.Errorf("%w: order id, payment id and signature are required", ErrVerificationFailed)
	}
	expected := SignRazorpayPayment(p.secret, orderID, paymentID)
	given, err := hex.DecodeString(strings.TrimSpace(req.Signature))
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: malformed signature", ErrVerificationFailed)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(given, want) {
		return PaymentDetails{}, fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}
	return PaymentDetails{
		Provider:       RazorpayProviderName,
		GatewayOrderID: orderID,
		PaymentID:      paymentID,
		Status:         StatusSucceeded,
	}, nil
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				ErrorDescription string            `json:"error_description"`
				Notes            map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook decodes payment.captured and payment.failed notifications.
func (p *RazorpayProvider) ParseWebhook(payload []byte) (WebhookEvent, error) {
	var hook razorpayWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	entity := hook.Payload.Payment.Entity
	event := WebhookEvent{
		ID:             entity.ID,
		GatewayOrderID: entity.OrderID,
		PaymentID:      entity.ID,
		Reason:         entity.ErrorDescription,
		Metadata:       entity.Notes,
	}
	switch hook.Event {
	case "payment.captured":
		event.Status = StatusSucceeded
	case "payment.failed":
		event.Status = StatusFailed
	default:
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrUnknownWebhookEvent, hook.Event)
	}
	if event.GatewayOrderID == "" {
		return WebhookEvent{}, errors.New("razorpay: webhook missing order id")
	}
	return event, nil
}

// SignRazorpayPayment returns the hex signature Razorpay checkout produces.
func SignRazorpayPayment(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
