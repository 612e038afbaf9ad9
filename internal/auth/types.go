package auth

import "errors"

// Kind tells compute-unit identities apart from account tokens.
type Kind string

// Token kinds.
const (
	// KindUnit is a compute unit calling the router as itself.
	KindUnit Kind = "unit"

	// KindUser is a linked account acting through the voice platform.
	KindUser Kind = "user"
)

// Sentinel errors.
var (
	ErrTokenMissing = errors.New("auth: token missing")
	ErrTokenInvalid = errors.New("auth: invalid token")
	ErrWrongKind    = errors.New("auth: wrong token kind")
)
