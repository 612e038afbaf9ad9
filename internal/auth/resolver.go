package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nerrad567/endpoint-cloud/internal/infrastructure/config"
)

// Resolver maps the bearer token of a directive to a user id.
type Resolver struct {
	secret   string
	dev      config.DevTokenConfig
	identity *identityVerifier
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithIdentityKeys accepts RS256 access tokens signed by one of keys. An
// empty issuer or clientID skips that check.
func WithIdentityKeys(keys jwt.Keyfunc, issuer, clientID string) ResolverOption {
	return func(r *Resolver) {
		r.identity = &identityVerifier{keys: keys, issuer: issuer, clientID: clientID}
	}
}

// NewResolver creates a resolver from the security configuration.
func NewResolver(cfg config.SecurityConfig, opts ...ResolverOption) *Resolver {
	r := &Resolver{secret: cfg.JWT.Secret, dev: cfg.DevToken}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadResolver creates a resolver and, when an identity provider is
// configured, fetches its signing keys. Key refresh stops with ctx.
func LoadResolver(ctx context.Context, cfg config.SecurityConfig) (*Resolver, error) {
	if !cfg.Identity.Enabled() {
		return NewResolver(cfg), nil
	}
	keys, err := NewIdentityKeys(ctx, cfg.Identity.KeysURL())
	if err != nil {
		return nil, err
	}
	return NewResolver(cfg, WithIdentityKeys(keys, cfg.Identity.IssuerURL(), cfg.Identity.ClientID)), nil
}

// UserID returns the user a token acts for. The development token, when
// enabled, maps to its configured user. Otherwise the token must be a user
// token signed with the shared secret or, when configured, an identity
// provider access token.
func (r *Resolver) UserID(token string) (string, error) {
	if token == "" {
		return "", ErrTokenMissing
	}
	if r.dev.Enabled && subtle.ConstantTimeCompare([]byte(token), []byte(r.dev.Token)) == 1 {
		return r.dev.UserID, nil
	}

	claims, err := ParseToken(token, r.secret)
	if err == nil {
		if claims.Kind != KindUser {
			return "", fmt.Errorf("%w: %s token cannot act for a user", ErrWrongKind, claims.Kind)
		}
		return claims.Subject, nil
	}
	if r.identity == nil || !errors.Is(err, ErrTokenInvalid) {
		return "", err
	}
	return r.identity.subject(token)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrTokenMissing
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: authorization header must be Bearer", ErrTokenInvalid)
	}
	return strings.TrimSpace(token), nil
}
