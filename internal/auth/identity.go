package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// NewIdentityKeys returns a key lookup backed by the identity provider's
// JWKS. The set is fetched once now and refreshed in the background until
// ctx is done.
func NewIdentityKeys(ctx context.Context, jwksURL string) (jwt.Keyfunc, error) {
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("loading identity provider keys: %w", err)
	}
	return k.Keyfunc, nil
}

// identityVerifier checks access tokens minted by the identity provider.
type identityVerifier struct {
	keys     jwt.Keyfunc
	issuer   string
	clientID string
}

// subject validates token and returns its "sub" claim.
func (v *identityVerifier) subject(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(Leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keys, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return "", ErrTokenInvalid
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if v.clientID != "" && !v.issuedTo(claims) {
		return "", fmt.Errorf("%w: token not issued to %s", ErrTokenInvalid, v.clientID)
	}
	return sub, nil
}

// issuedTo accepts the client either as "client_id" (access tokens) or in
// "aud" (id tokens).
func (v *identityVerifier) issuedTo(claims jwt.MapClaims) bool {
	if cid, _ := claims["client_id"].(string); cid == v.clientID {
		return true
	}
	aud, err := claims.GetAudience()
	return err == nil && slices.Contains(aud, v.clientID)
}
