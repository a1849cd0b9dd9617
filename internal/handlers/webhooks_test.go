package handlers

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
	"github.com/dingdong-ecommerce/api/internal/services"
)

var webhookNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newWebhookRouter(checkout services.CheckoutService) chi.Router {
	secrets := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if name == "razorpay" {
			return "whsec", nil
		}
		return "", errors.New("no secret")
	})
	validator := auth.NewHMACValidator(secrets, auth.NewMemoryNonceStore(), auth.WithHMACClock(func() time.Time { return webhookNow }))
	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(checkout, validator, []string{"Razorpay"}).Routes)
	return router
}

func signedWebhook(path, secret, nonce string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	ts := strconv.FormatInt(webhookNow.Unix(), 10)
	req.Header.Set("X-Signature", hex.EncodeToString(auth.SignRequest([]byte(secret), req.Method, req.URL.EscapedPath(), ts, nonce, body)))
	req.Header.Set("X-Signature-Timestamp", ts)
	req.Header.Set("X-Signature-Nonce", nonce)
	return req
}

func TestWebhookHandlersDeliverSignedEvent(t *testing.T) {
	var gotProvider string
	var gotBody []byte
	checkout := &stubCheckoutService{
		webhookFunc: func(_ context.Context, provider string, payload []byte) error {
			gotProvider, gotBody = provider, payload
			return nil
		},
	}
	router := newWebhookRouter(checkout)
	body := []byte(`{"event":"payment.captured"}`)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhook("/webhooks/payments/razorpay", "whsec", "n-1", body))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotProvider != "razorpay" || !bytes.Equal(gotBody, body) {
		t.Fatalf("unexpected delivery %q %s", gotProvider, gotBody)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, signedWebhook("/webhooks/payments/razorpay", "whsec", "n-1", body))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected, got %d", rr.Code)
	}
}

func TestWebhookHandlersRejectUnsignedAndUnknown(t *testing.T) {
	called := false
	checkout := &stubCheckoutService{
		webhookFunc: func(context.Context, string, []byte) error {
			called = true
			return nil
		},
	}
	router := newWebhookRouter(checkout)
	body := []byte(`{}`)

	cases := map[string]*http.Request{
		"wrong secret":     signedWebhook("/webhooks/payments/razorpay", "other", "n-2", body),
		"unknown provider": signedWebhook("/webhooks/payments/paypal", "whsec", "n-3", body),
		"no headers":       httptest.NewRequest(http.MethodPost, "/webhooks/payments/razorpay", bytes.NewReader(body)),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}
	if called {
		t.Fatalf("checkout must not see rejected webhooks")
	}
}

func TestWebhookHandlersMapsServiceErrors(t *testing.T) {
	checkout := &stubCheckoutService{
		webhookFunc: func(context.Context, string, []byte) error {
			return services.ErrPaymentOrderMismatch
		},
	}
	rr := httptest.NewRecorder()
	newWebhookRouter(checkout).ServeHTTP(rr, signedWebhook("/webhooks/payments/razorpay", "whsec", "n-4", []byte(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	requireErrorCode(t, rr.Body.String(), "payment_order_mismatch")
}
