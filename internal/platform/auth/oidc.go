package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound means the kid is not in the published key set.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport and decoding failures.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

const defaultJWKSRefreshInterval = 15 * time.Minute

// JWKSCache fetches a JSON Web Key Set and keeps it until Cache-Control max-age
// (or the refresh interval) runs out.
type JWKSCache struct {
	url      string
	client   *http.Client
	now      func() time.Time
	interval time.Duration

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises a JWKSCache.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the fetch client.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock overrides the clock.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache builds a cache for url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		interval: defaultJWKSRefreshInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key returns the public key for kid, refreshing once on a miss.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.keys) == 0 || !c.now().Before(c.expiry) {
		if err := c.refreshLocked(ctx); err != nil {
			return nil, err
		}
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

// Keyfunc adapts the cache to jwt parsing. Only RS256 is accepted.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.interval
	for _, directive := range strings.Split(resp.Header.Get("Cache-Control"), ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		if strings.EqualFold(name, "max-age") {
			if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
				validity = time.Duration(seconds) * time.Second
			}
		}
	}
	c.keys = keys
	c.expiry = c.now().Add(validity)
	return nil
}

// ServiceIdentity is the verified caller of an internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityKey struct{}

// ServiceIdentityFromContext returns the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// OIDCValidator authenticates scheduler and service-to-service calls carrying
// Google signed ID tokens.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption customises an OIDCValidator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger sets the logger.
func WithOIDCLogger(logger Logger) OIDCOption {
	return func(v *OIDCValidator) { v.logger = logger }
}

// WithOIDCMetrics sets the metrics recorder.
func WithOIDCMetrics(metrics MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = metrics }
}

// WithOIDCClock overrides the clock used for token expiry checks.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewOIDCValidator builds a validator over cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireOIDC accepts bearer tokens for audience issued by one of issuers.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			fail := func(status int, reason, message string) {
				if v.metrics != nil {
					v.metrics.RecordVerification(ctx, "oidc", false, reason, v.now().Sub(start))
				}
				respondAuthError(w, status, reason, message)
			}

			if audience == "" || v.cache == nil {
				fail(http.StatusServiceUnavailable, "verification_unavailable", "oidc verification not configured")
				return
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				fail(http.StatusUnauthorized, "unauthenticated", "oidc token missing")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				if v.logger != nil {
					v.logger.Printf("auth: oidc verification failed: %v", err)
				}
				if errors.Is(err, ErrJWKSFetchFailed) {
					fail(http.StatusServiceUnavailable, "jwks_unavailable", "oidc keys unavailable")
					return
				}
				fail(http.StatusUnauthorized, "invalid_token", "oidc token verification failed")
				return
			}
			if !claims.VerifyAudience(audience, true) {
				fail(http.StatusUnauthorized, "audience_mismatch", "oidc audience mismatch")
				return
			}
			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				fail(http.StatusUnauthorized, "issuer_mismatch", "oidc issuer mismatch")
				return
			}

			identity := &ServiceIdentity{Issuer: issuer}
			identity.Subject, _ = claims["sub"].(string)
			identity.Email, _ = claims["email"].(string)
			if v.metrics != nil {
				v.metrics.RecordVerification(ctx, "oidc", true, "ok", v.now().Sub(start))
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, serviceIdentityKey{}, identity)))
		})
	}
}
