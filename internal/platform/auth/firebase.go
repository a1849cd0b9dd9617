package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/dingdong-ecommerce/api/internal/platform/config"
)

// FirebaseVerifier verifies Firebase ID tokens through the Admin SDK.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("auth: firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// VerifyIDToken implements TokenVerifier.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("auth: firebase verifier not initialised")
	}
	return v.client.VerifyIDToken(ctx, idToken)
}

// StaticVerifier resolves fixed bearer tokens for local runs against the
// in-memory store. Entries are "token=uid" or "token=uid:role|role".
type StaticVerifier struct {
	tokens map[string]*firebaseauth.Token
}

// NewStaticVerifier parses entries into a StaticVerifier.
func NewStaticVerifier(entries []string) (*StaticVerifier, error) {
	v := &StaticVerifier{tokens: make(map[string]*firebaseauth.Token, len(entries))}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, subject, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(subject) == "" {
			return nil, fmt.Errorf("auth: invalid static token entry %q", entry)
		}
		uid, roles, _ := strings.Cut(subject, ":")
		claims := map[string]any{}
		if roles != "" {
			list := make([]any, 0)
			for _, role := range strings.Split(roles, "|") {
				list = append(list, role)
			}
			claims[defaultRoleClaim] = list
		}
		v.tokens[strings.TrimSpace(token)] = &firebaseauth.Token{UID: strings.TrimSpace(uid), Claims: claims}
	}
	return v, nil
}

// VerifyIDToken implements TokenVerifier.
func (v *StaticVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}
	token, ok := v.tokens[idToken]
	if !ok {
		return nil, ErrTokenInvalid
	}
	return token, nil
}
