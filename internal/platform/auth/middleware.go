package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

const (
	defaultRoleClaim     = "role"
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenInvalid is returned by verifiers that reject a token outright.
var ErrTokenInvalid = errors.New("auth: id token invalid")

// TokenVerifier verifies bearer ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim changes the custom claim roles are read from.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each verification call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds an Authenticator around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: defaultRoleClaim, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid bearer token. It only
// authenticates; role checks are composed separately with RequireRoles.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "auth_unavailable", "authentication is not configured")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			if err != nil {
				code, message := "invalid_token", "id token verification failed"
				if firebaseauth.IsIDTokenExpired(err) {
					code, message = "token_expired", "id token expired"
				}
				respondAuthError(w, http.StatusUnauthorized, code, message)
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Name:  stringClaim(token.Claims, "name"),
				Roles: rolesFromClaim(token.Claims[a.roleClaim]),
				token: token,
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleCustomer}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRoles allows the request through when the identity on the context has
// any of roles. It must run after an authentication middleware.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			for _, role := range roles {
				if identity.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondAuthError(w, http.StatusForbidden, "forbidden", "insufficient role")
		})
	}
}

// rolesFromClaim accepts a single role string, a list of roles or a map of role flags.
func rolesFromClaim(raw any) []string {
	var out []string
	add := func(role string) {
		role = normaliseRole(role)
		if role == "" {
			return
		}
		for _, existing := range out {
			if existing == role {
				return
			}
		}
		out = append(out, role)
	}
	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, role := range v {
			add(role)
		}
	case []any:
		for _, item := range v {
			if role, ok := item.(string); ok {
				add(role)
			}
		}
	case map[string]any:
		for role, flag := range v {
			if enabled, ok := flag.(bool); ok && enabled {
				add(role)
			}
		}
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
