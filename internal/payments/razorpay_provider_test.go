package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestRazorpay(t *testing.T, handler http.HandlerFunc) *RazorpayProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{
		KeyID:      "rzp_test_key",
		KeySecret:  "secret",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}
	return provider
}

func TestRazorpayCreateOrder(t *testing.T) {
	provider := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != "secret" {
			t.Errorf("missing basic auth")
		}
		var body razorpayOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Amount != 49000 || body.Currency != "INR" || body.Receipt != "DNG-2026-000001" {
			t.Errorf("unexpected body %+v", body)
		}
		_ = json.NewEncoder(w).Encode(razorpayOrder{ID: "order_abc", Amount: body.Amount, Currency: "INR", Status: "created"})
	})

	order, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 49000, Currency: "inr", Receipt: "DNG-2026-000001"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "order_abc" || order.KeyID != "rzp_test_key" || order.Amount != 49000 {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestRazorpayCreateOrderGatewayError(t *testing.T) {
	provider := newTestRazorpay(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})
	if _, err := provider.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"}); err == nil {
		t.Fatalf("expected gateway error")
	}
}

func TestRazorpayVerifyPayment(t *testing.T) {
	provider, err := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "k", KeySecret: "secret"})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}
	signature := SignRazorpayPayment("secret", "order_abc", "pay_123")

	details, err := provider.VerifyPayment(context.Background(), VerifyRequest{GatewayOrderID: "order_abc", PaymentID: "pay_123", Signature: signature})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if details.Status != StatusSucceeded || details.PaymentID != "pay_123" {
		t.Fatalf("unexpected details %+v", details)
	}

	cases := []VerifyRequest{
		{GatewayOrderID: "order_abc", PaymentID: "pay_999", Signature: signature},
		{GatewayOrderID: "order_abc", PaymentID: "pay_123", Signature: "not-hex"},
		{GatewayOrderID: "order_abc", PaymentID: "pay_123"},
	}
	for _, tc := range cases {
		if _, err := provider.VerifyPayment(context.Background(), tc); !errors.Is(err, ErrVerificationFailed) {
			t.Fatalf("expected verification failure for %+v, got %v", tc, err)
		}
	}
}

func TestRazorpayParseWebhook(t *testing.T) {
	provider, _ := NewRazorpayProvider(RazorpayProviderConfig{KeyID: "k", KeySecret: "s"})

	event, err := provider.ParseWebhook([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_abc","error_description":"card declined","notes":{"orderId":"ord_1"}}}}}`))
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Status != StatusFailed || event.GatewayOrderID != "order_abc" || event.Reason != "card declined" || event.Metadata["orderId"] != "ord_1" {
		t.Fatalf("unexpected event %+v", event)
	}

	if _, err := provider.ParseWebhook([]byte(`{"event":"refund.created"}`)); !errors.Is(err, ErrUnknownWebhookEvent) {
		t.Fatalf("expected unknown event error, got %v", err)
	}
}
