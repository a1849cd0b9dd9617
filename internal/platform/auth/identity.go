package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles understood by the storefront. Admin is the back-office role.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string

	token *firebaseauth.Token
}

// Token returns the verified ID token, nil for identities built in tests.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity carries role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return normaliseRole(r) == role })
}

// IsAdmin reports whether the identity can use back-office routes.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type identityKey struct{}

// WithIdentity stores identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by the authentication middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return nil, false
	}
	return identity, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
