package directive

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/endpoint-cloud/internal/alexa"
	"github.com/nerrad567/endpoint-cloud/internal/auth"
	"github.com/nerrad567/endpoint-cloud/internal/user"
)

// expirySkew is taken off the token lifetime so a token is refreshed
// before the authorization server considers it expired.
const expirySkew = 5 * time.Second

type acceptGrantPayload struct {
	Grant struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"grant"`
	Grantee struct {
		Type  string `json:"type"`
		Token string `json:"token"`
	} `json:"grantee"`
}

// acceptGrant exchanges the grant code and stores the resulting tokens in
// the grantee's user record. Only a hash of the code is kept.
func (d *Dispatcher) acceptGrant(ctx context.Context, dir *alexa.Directive) *alexa.Response {
	var p acceptGrantPayload
	if err := dir.DecodePayload(&p); err != nil || p.Grant.Code == "" {
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "grant code is required")
	}

	userID, err := d.tokens.UserID(p.Grantee.Token)
	if err != nil {
		d.logger.Warn("grantee token rejected", "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "grantee token is not valid")
	}
	if d.oauth == nil {
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "account linking is not configured")
	}

	tok, err := d.oauth.Exchange(ctx, p.Grant.Code)
	if err != nil {
		d.logger.Error("exchanging grant code", "user_id", userID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "grant code exchange failed")
	}

	codeHash, err := auth.HashSecret(p.Grant.Code)
	if err != nil {
		d.logger.Error("hashing grant code", "user_id", userID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "storing grant failed")
	}

	u, err := d.users.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			d.logger.Error("loading user", "user_id", userID, "error", err)
			return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "identity store unavailable")
		}
		u = &user.User{UserID: userID}
	}

	u.AccessToken = tok.AccessToken
	u.RefreshToken = tok.RefreshToken
	u.TokenType = tok.Type()
	u.ClientID = d.oauth.ClientID
	u.RedirectURI = d.oauth.RedirectURL
	u.GrantCodeHash = codeHash
	u.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.Add(-expirySkew).UTC()
		u.ExpiresAt = &exp
	}

	if err := d.users.Put(ctx, u); err != nil {
		d.logger.Error("storing grant", "user_id", userID, "error", err)
		return alexa.NewErrorResponse(dir, alexa.ErrorAcceptGrantFailed, "storing grant failed")
	}
	d.logger.Info("grant accepted", "user_id", userID)

	return alexa.ReplyTo(dir, alexa.NamespaceAuthorization, alexa.NameAcceptGrantResponse)
}
