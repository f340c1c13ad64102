// Package hasher implements the password hashing contract with bcrypt.
package hasher

import (
	"errors"
	"fmt"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is bcrypt's input limit; longer passwords are rejected rather than truncated
const MaxPasswordBytes = 72

// BcryptHasher hashes passwords with a fixed bcrypt cost
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher; cost 0 selects bcrypt.DefaultCost
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

var _ ports.PasswordHasher = (*BcryptHasher)(nil)

func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("password longer than %d bytes: %w", MaxPasswordBytes, core.ErrWeakPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Compare returns core.ErrInvalidCredentials when the password does not match
func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return core.ErrInvalidCredentials
	}
	return fmt.Errorf("%w: %v", core.ErrInvalidCredentials, err)
}
