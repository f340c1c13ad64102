package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

const (
	maxHandleLen      = 20
	maxSuffixAttempts = 5
)

var handleCharsRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// IdentityResolver maps verified credentials to user accounts
type IdentityResolver struct {
	repo   ports.Repository
	logger *slog.Logger
	newID  func() string
}

// NewIdentityResolver creates a resolver backed by repo
func NewIdentityResolver(repo ports.Repository, logger *slog.Logger) *IdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{
		repo:   repo,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// ResolveOrCreate returns the user owning the identity, creating the user and identity when
// none exists. A concurrent first login for the same identity resolves to the winner's user.
// created reports whether this call created the account.
func (r *IdentityResolver) ResolveOrCreate(ctx context.Context, v core.VerifiedIdentity) (user *core.User, created bool, err error) {
	existing, err := r.repo.FindIdentity(ctx, v.Provider, v.ExternalID)
	switch {
	case err == nil:
		user, err := r.activeUser(ctx, existing.UserID)
		return user, false, err
	case !errors.Is(err, core.ErrNotFound):
		return nil, false, err
	}

	user, err = r.createWithGeneratedHandle(ctx, v)
	var conflict *ports.IdentityConflictError
	if errors.As(err, &conflict) {
		ownerID, err := r.ownerOf(ctx, conflict)
		if err != nil {
			return nil, false, err
		}
		r.logger.Debug("identity created concurrently, using existing account",
			"provider", v.Provider, "user_id", ownerID)
		user, err := r.activeUser(ctx, ownerID)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// Register creates a new account for an identity that must not exist yet. An empty handle is
// generated from the identity. An existing identity is reported as a *ports.IdentityConflictError.
func (r *IdentityResolver) Register(ctx context.Context, v core.VerifiedIdentity, handle string) (*core.User, error) {
	if handle == "" {
		return r.createWithGeneratedHandle(ctx, v)
	}
	return r.create(ctx, v, handle)
}

func (r *IdentityResolver) create(ctx context.Context, v core.VerifiedIdentity, handle string) (*core.User, error) {
	user := &core.User{ID: r.newID(), Handle: handle, Active: true}
	identity := &core.Identity{Provider: v.Provider, ExternalID: v.ExternalID, Payload: v.Payload}
	if err := r.repo.CreateUserWithIdentity(ctx, user, identity); err != nil {
		return nil, err
	}
	return user, nil
}

// Link attaches the identity to userID. It never moves an identity between users.
func (r *IdentityResolver) Link(ctx context.Context, userID string, v core.VerifiedIdentity) ([]core.Identity, error) {
	if _, err := r.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	existing, err := r.repo.FindIdentity(ctx, v.Provider, v.ExternalID)
	switch {
	case err == nil:
		return nil, linkedTo(userID, existing.UserID)
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}

	identity := &core.Identity{UserID: userID, Provider: v.Provider, ExternalID: v.ExternalID, Payload: v.Payload}
	err = r.repo.InsertIdentity(ctx, identity)
	var conflict *ports.IdentityConflictError
	if errors.As(err, &conflict) {
		if conflict.OwnerID == "" {
			return nil, fmt.Errorf("identity %s: %w", core.IdentityKey(v.Provider, v.ExternalID), core.ErrConflict)
		}
		return nil, linkedTo(userID, conflict.OwnerID)
	}
	if err != nil {
		return nil, err
	}

	return r.repo.ListIdentities(ctx, userID)
}

// Unlink removes an identity from userID, refusing to remove the last one
func (r *IdentityResolver) Unlink(ctx context.Context, userID string, provider core.Provider, externalID string) ([]core.Identity, error) {
	if err := r.repo.DeleteIdentity(ctx, userID, provider, externalID); err != nil {
		return nil, err
	}
	return r.repo.ListIdentities(ctx, userID)
}

func (r *IdentityResolver) activeUser(ctx context.Context, userID string) (*core.User, error) {
	user, err := r.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, core.ErrAccountInactive
	}
	return user, nil
}

func (r *IdentityResolver) ownerOf(ctx context.Context, conflict *ports.IdentityConflictError) (string, error) {
	if conflict.OwnerID != "" {
		return conflict.OwnerID, nil
	}
	existing, err := r.repo.FindIdentity(ctx, conflict.Provider, conflict.ExternalID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return "", fmt.Errorf("identity %s vanished after conflict: %w", core.IdentityKey(conflict.Provider, conflict.ExternalID), core.ErrConflict)
		}
		return "", err
	}
	return existing.UserID, nil
}

// createWithGeneratedHandle tries base, base-2 ... base-N, then a random suffix
func (r *IdentityResolver) createWithGeneratedHandle(ctx context.Context, v core.VerifiedIdentity) (*core.User, error) {
	base := baseHandle(v.Provider, v.ExternalID)

	for attempt := 1; attempt <= maxSuffixAttempts+1; attempt++ {
		var handle string
		if attempt <= maxSuffixAttempts {
			handle = suffixedHandle(base, attempt)
			taken, err := r.repo.HandleExists(ctx, handle)
			if err != nil {
				return nil, err
			}
			if taken {
				continue
			}
		} else {
			handle = randomHandle(base)
		}

		user, err := r.create(ctx, v, handle)
		if errors.Is(err, core.ErrUsernameTaken) {
			continue
		}
		return user, err
	}
	return nil, fmt.Errorf("no free handle for %q: %w", base, core.ErrUsernameTaken)
}

func linkedTo(callerID, ownerID string) error {
	if ownerID == callerID {
		return core.ErrAlreadyLinkedToYou
	}
	return core.ErrAlreadyLinkedToOther
}

// baseHandle derives the default handle: the sanitized local part for email and
// <provider>_<first 6 address chars> for wallets.
func baseHandle(provider core.Provider, externalID string) string {
	if provider == core.ProviderEmail {
		local, _, _ := strings.Cut(externalID, "@")
		h := handleCharsRe.ReplaceAllString(strings.ToLower(local), "_")
		h = strings.Trim(h, "_-")
		if len(h) > maxHandleLen-7 {
			h = h[:maxHandleLen-7]
		}
		if len(h) < 3 {
			h = "user_" + h
		}
		return h
	}

	addr := strings.TrimPrefix(externalID, "0x")
	if provider == core.ProviderCosmos {
		if i := strings.LastIndexByte(addr, '1'); i >= 0 {
			addr = addr[i+1:]
		}
	}
	if len(addr) > 6 {
		addr = addr[:6]
	}
	return string(provider) + "_" + strings.ToLower(addr)
}

func suffixedHandle(base string, attempt int) string {
	if attempt == 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt)
}

func randomHandle(base string) string {
	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return base + "-" + hex.EncodeToString(buf)
}
