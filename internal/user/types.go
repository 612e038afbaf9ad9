package user

import (
	"fmt"
	"time"
)

const maxIDLength = 256

// User is a linked account. Token fields hold what the voice platform's
// authorization server returned for the last accepted grant.
type User struct {
	UserID        string     `json:"userId" dynamodbav:"UserId"`
	AccessToken   string     `json:"-" dynamodbav:"AccessToken,omitempty"`
	RefreshToken  string     `json:"-" dynamodbav:"RefreshToken,omitempty"`
	TokenType     string     `json:"tokenType,omitempty" dynamodbav:"TokenType,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty" dynamodbav:"ExpiresAt,omitempty"`
	ClientID      string     `json:"clientId,omitempty" dynamodbav:"ClientId,omitempty"`
	RedirectURI   string     `json:"redirectUri,omitempty" dynamodbav:"RedirectUri,omitempty"`
	GrantCodeHash string     `json:"-" dynamodbav:"GrantCodeHash,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" dynamodbav:"CreatedAt"`
	UpdatedAt     time.Time  `json:"updatedAt" dynamodbav:"UpdatedAt"`
}

// Linked reports whether the user has completed account linking.
func (u *User) Linked() bool {
	return u.AccessToken != ""
}

// Validate checks the fields a store relies on.
func Validate(u *User) error {
	if u == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidUser)
	}
	if u.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidUser)
	}
	if len(u.UserID) > maxIDLength {
		return fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidUser, maxIDLength)
	}
	return nil
}

// stamp sets CreatedAt on first write and UpdatedAt on every write.
func stamp(u *User, now time.Time) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}
