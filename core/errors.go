package core

import "errors"

var (
	ErrInvalidAddress       = errors.New("invalid address")
	ErrChallengeExpired     = errors.New("challenge expired or not found")
	ErrChallengeMismatch    = errors.New("message does not match the issued challenge")
	ErrSignatureInvalid     = errors.New("invalid signature")
	ErrAccountInactive      = errors.New("account is inactive")
	ErrAlreadyLinkedToYou   = errors.New("identity is already linked to your account")
	ErrAlreadyLinkedToOther = errors.New("identity is linked to another account")
	ErrLastIdentity         = errors.New("cannot remove the last identity of an account")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrWeakPassword         = errors.New("password does not meet requirements")
	ErrEmailTaken           = errors.New("email is already registered")
	ErrUsernameTaken        = errors.New("username is already taken")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrInvalidEmail         = errors.New("invalid email")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrTokenExpired         = errors.New("token has expired")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflicting concurrent update")

	// ErrUnavailable marks infrastructure faults; the only kind a caller may retry
	ErrUnavailable = errors.New("service unavailable")
)

// IsRetryable reports whether err is a transient infrastructure fault
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
