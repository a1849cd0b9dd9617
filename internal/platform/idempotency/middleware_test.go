package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
}

func TestMiddlewareRequiresKey(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run without a key")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"orderNumber":"DNG-2026-000001"}`))
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("k-1", `{"paymentMethod":"cod"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("k-1", `{"paymentMethod":"cod"}`))

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of first response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected replay headers %v", second.Header())
	}
}

func TestMiddlewareKeysAreScopedPerUser(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("shared", `{}`))

	other := newRequest("shared", `{}`)
	other = other.WithContext(auth.WithIdentity(other.Context(), &auth.Identity{UID: "user-2"}))
	handler.ServeHTTP(httptest.NewRecorder(), other)

	if calls != 2 {
		t.Fatalf("expected separate executions per user, got %d", calls)
	}
}

func TestMiddlewareFingerprintMismatch(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("same", `{"a":1}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("same", `{"a":2}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservation(t *testing.T) {
	store := &stubStore{state: ReservationStatePending}
	handler := Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run while the key is held")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("busy", `{}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesOnServerError(t *testing.T) {
	store := &stubStore{}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("retry-me", `{}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected handler status passed through, got %d", rr.Code)
	}
	if !store.released || store.saved {
		t.Fatalf("expected release without save, got released=%v saved=%v", store.released, store.saved)
	}
}

func TestMiddlewareSaveFailureReleases(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("k", `{}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected handler response to be delivered, got %d", rr.Code)
	}
	if !store.released {
		t.Fatalf("expected reservation released after save failure")
	}
}

type stubStore struct {
	state    ReservationState
	failSave bool
	saved    bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: s.state}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	s.saved = true
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
