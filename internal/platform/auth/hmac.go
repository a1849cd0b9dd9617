package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 10 * time.Minute
)

// SecretProvider resolves named shared secrets.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to SecretProvider.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore remembers nonces so a signed request cannot be replayed.
// UseNonce returns false when the nonce was already used within scope.
type NonceStore interface {
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore is a process local NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	now    func() time.Time
	nonces map[string]time.Time
}

// NewMemoryNonceStore constructs an empty store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{now: time.Now, nonces: make(map[string]time.Time)}
}

// UseNonce implements NonceStore.
func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "::" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// Logger is the Printf style logger used by the verifiers.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder receives one call per verification attempt.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// HMACValidator checks requests signed with a shared secret. The signature covers
// method, path, timestamp, nonce and the SHA-256 of the body, joined by newlines.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration

	secrets sync.Map
}

// HMACOption customises an HMACValidator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	v := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithHMACLogger sets the logger for secret and nonce store failures.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) { v.logger = logger }
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) { v.metrics = metrics }
}

// WithHMACClock overrides the clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACClockSkew sets the accepted timestamp drift.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// HMACMetadata is attached to the context of verified requests.
type HMACMetadata struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
}

type hmacKey struct{}

// HMACMetadataFromContext returns the verification metadata.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacKey{}).(*HMACMetadata)
	return meta, ok && meta != nil
}

// RequireHMAC verifies requests against the secret called secretName.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	return v.RequireHMACResolver(func(*http.Request) (string, bool) {
		name := strings.TrimSpace(secretName)
		return name, name != ""
	})
}

// RequireHMACResolver picks the secret per request, e.g. from a route parameter.
func (v *HMACValidator) RequireHMACResolver(resolve func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			meta, status, reason, err := v.verify(r, resolve)
			if err != nil {
				if v.logger != nil && status == http.StatusServiceUnavailable {
					v.logger.Printf("auth: hmac verification unavailable: %v", err)
				}
				v.record(r.Context(), false, reason, start)
				respondAuthError(w, status, reason, err.Error())
				return
			}
			v.record(r.Context(), true, "ok", start)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), hmacKey{}, meta)))
		})
	}
}

func (v *HMACValidator) verify(r *http.Request, resolve func(*http.Request) (string, bool)) (*HMACMetadata, int, string, error) {
	ctx := r.Context()
	name, ok := "", false
	if resolve != nil {
		name, ok = resolve(r)
	}
	if !ok {
		return nil, http.StatusUnauthorized, "unknown_signer", errors.New("signer not recognised")
	}
	secret, err := v.loadSecret(ctx, name)
	if err != nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", err
	}

	rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if rawSignature == "" || rawTimestamp == "" || nonce == "" {
		return nil, http.StatusUnauthorized, "signature_missing", errors.New("signature headers missing")
	}
	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, http.StatusUnauthorized, "timestamp_invalid", err
	}
	if drift := v.now().Sub(timestamp); drift > v.clockSkew || drift < -v.clockSkew {
		return nil, http.StatusUnauthorized, "timestamp_skew", errors.New("signature timestamp outside allowed window")
	}
	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return nil, http.StatusUnauthorized, "signature_invalid", err
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, http.StatusBadRequest, "invalid_body", errors.New("unable to read body")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	if !hmac.Equal(signature, SignRequest(secret, r.Method, r.URL.EscapedPath(), rawTimestamp, nonce, body)) {
		return nil, http.StatusUnauthorized, "signature_mismatch", errors.New("signature verification failed")
	}

	if v.nonces == nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", errors.New("nonce store unavailable")
	}
	fresh, err := v.nonces.UseNonce(ctx, name, nonce, v.now().Add(v.nonceTTL))
	if err != nil {
		return nil, http.StatusServiceUnavailable, "verification_unavailable", err
	}
	if !fresh {
		return nil, http.StatusUnauthorized, "nonce_replay", errors.New("duplicate signature nonce")
	}
	return &HMACMetadata{SecretName: name, Timestamp: timestamp, Nonce: nonce}, http.StatusOK, "ok", nil
}

// SignRequest computes the signature a caller must send for the given request parts.
func SignRequest(secret []byte, method, path, timestamp, nonce string, body []byte) []byte {
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	mac := hmac.New(sha256.New, secret)
	_, _ = io.WriteString(mac, strings.Join([]string{strings.ToUpper(method), path, timestamp, nonce, hex.EncodeToString(digest[:])}, "\n"))
	return mac.Sum(nil)
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
	}
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if cached, ok := v.secrets.Load(name); ok {
		return cached.([]byte), nil
	}
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("auth: secret %q is empty", name)
	}
	v.secrets.Store(name, []byte(raw))
	return []byte(raw), nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("signature must be hex or base64 encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unable to parse signature timestamp %q", value)
}
