package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger is the Printf style logger used for store failures.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareConfig struct {
	header string
	ttl    time.Duration
	clock  func() time.Time
	logger Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader changes the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

// WithClock overrides the clock.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware requires an idempotency key on the wrapped routes and replays the
// first completed response for repeated keys. Keys are scoped per caller, and
// server errors release the key so the client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{header: defaultHeaderName, ttl: DefaultTTL, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" || len(key) > maxKeyLength {
				respondError(w, http.StatusBadRequest, "idempotency_key_required", "a valid "+cfg.header+" header is required")
				return
			}

			var body []byte
			if r.Body != nil {
				var err error
				if body, err = io.ReadAll(r.Body); err != nil {
					respondError(w, http.StatusBadRequest, "invalid_body", "unable to read request body")
					return
				}
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			caller := requester(r)
			scoped := key + "|" + caller
			fingerprint := sha256Hex([]byte(strings.Join([]string{r.Method, r.URL.Path, r.URL.RawQuery, caller, sha256Hex(body)}, "|")))

			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				respondError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
				return
			case err != nil:
				cfg.logf("idempotency: reserve failed: %v", err)
				respondError(w, http.StatusServiceUnavailable, "idempotency_unavailable", "unable to process idempotency key")
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				replay(w, reservation.Record)
				return
			case ReservationStatePending:
				respondError(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			rec := &bufferedWriter{header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(r.Context(), scoped, fingerprint); err != nil {
					cfg.logf("idempotency: release failed: %v", err)
				}
			} else if err := store.SaveResponse(r.Context(), scoped, fingerprint, Response{Status: rec.status(), Headers: rec.header, Body: rec.body.Bytes()}, cfg.clock().UTC(), cfg.ttl); err != nil {
				cfg.logf("idempotency: save response failed: %v", err)
				_ = store.Release(r.Context(), scoped, fingerprint)
			}
			rec.flush(w)
		})
	}
}

func (c middlewareConfig) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func requester(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok && svc.Subject != "" {
		return svc.Subject
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": code, "message": message, "status": status})
}

// bufferedWriter holds the handler response until it has been stored.
type bufferedWriter struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.code == 0 {
		b.code = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.code == 0 {
		b.code = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) status() int {
	if b.code == 0 {
		return http.StatusOK
	}
	return b.code
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.status())
	_, _ = w.Write(b.body.Bytes())
}
