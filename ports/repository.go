package ports

import (
	"context"

	"github.com/layer-3/sigil/core"
)

// Repository persists users and their identities.
// The (provider, external id) pair is unique across all users.
type Repository interface {
	// FindIdentity returns core.ErrNotFound when no identity matches
	FindIdentity(ctx context.Context, provider core.Provider, externalID string) (*core.Identity, error)
	ListIdentities(ctx context.Context, userID string) ([]core.Identity, error)

	GetUser(ctx context.Context, userID string) (*core.User, error)
	HandleExists(ctx context.Context, handle string) (bool, error)

	// CreateUserWithIdentity inserts both rows in one transaction.
	// Returns core.ErrUsernameTaken on a handle collision and a *IdentityConflictError
	// when the identity already exists; nothing is written in either case.
	CreateUserWithIdentity(ctx context.Context, user *core.User, identity *core.Identity) error

	// InsertIdentity attaches an identity to an existing user, or returns a
	// *IdentityConflictError naming the current owner.
	InsertIdentity(ctx context.Context, identity *core.Identity) error

	// UpdateIdentityPayload replaces the payload of an existing identity in place
	UpdateIdentityPayload(ctx context.Context, provider core.Provider, externalID string, payload core.Payload) error

	// DeleteIdentity removes an identity owned by userID.
	// Returns core.ErrLastIdentity if it is the user's only identity.
	DeleteIdentity(ctx context.Context, userID string, provider core.Provider, externalID string) error

	UpdateHandle(ctx context.Context, userID, handle string) (*core.User, error)
	SetActive(ctx context.Context, userID string, active bool) (*core.User, error)
}

// IdentityConflictError reports that an identity insert lost to an existing row
type IdentityConflictError struct {
	Provider   core.Provider
	ExternalID string
	OwnerID    string // Empty when the owner could not be read back
}

func (e *IdentityConflictError) Error() string {
	return "identity " + core.IdentityKey(e.Provider, e.ExternalID) + " already exists"
}
