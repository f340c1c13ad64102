package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// MemoryRepository is an in-memory implementation of ports.Repository with the same
// uniqueness rules as the PostgreSQL schema. It is used by tests and single-node development.
type MemoryRepository struct {
	mu         sync.RWMutex
	users      map[string]core.User
	handles    map[string]string // lower(handle) -> user id
	identities map[string]core.Identity
	now        func() time.Time
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[string]core.User),
		handles:    make(map[string]string),
		identities: make(map[string]core.Identity),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ ports.Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) FindIdentity(ctx context.Context, provider core.Provider, externalID string) (*core.Identity, error) {
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.identities[core.IdentityKey(provider, externalID)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &id, nil
}

func (r *MemoryRepository) ListIdentities(ctx context.Context, userID string) ([]core.Identity, error) {
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.Identity
	for _, id := range r.identities {
		if id.UserID == userID {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID string) (*core.User, error) {
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) HandleExists(ctx context.Context, handle string) (bool, error) {
	if err := ctxError(ctx); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handles[strings.ToLower(handle)]
	return ok, nil
}

func (r *MemoryRepository) CreateUserWithIdentity(ctx context.Context, user *core.User, identity *core.Identity) error {
	if err := ctxError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[strings.ToLower(user.Handle)]; ok {
		return core.ErrUsernameTaken
	}
	key := core.IdentityKey(identity.Provider, identity.ExternalID)
	if existing, ok := r.identities[key]; ok {
		return &ports.IdentityConflictError{
			Provider:   identity.Provider,
			ExternalID: identity.ExternalID,
			OwnerID:    existing.UserID,
		}
	}

	now := r.now()
	user.CreatedAt, user.UpdatedAt = now, now
	identity.UserID = user.ID
	identity.CreatedAt, identity.UpdatedAt = now, now

	r.users[user.ID] = *user
	r.handles[strings.ToLower(user.Handle)] = user.ID
	r.identities[key] = *identity
	return nil
}

func (r *MemoryRepository) InsertIdentity(ctx context.Context, identity *core.Identity) error {
	if err := ctxError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[identity.UserID]; !ok {
		return core.ErrNotFound
	}
	key := core.IdentityKey(identity.Provider, identity.ExternalID)
	if existing, ok := r.identities[key]; ok {
		return &ports.IdentityConflictError{
			Provider:   identity.Provider,
			ExternalID: identity.ExternalID,
			OwnerID:    existing.UserID,
		}
	}

	now := r.now()
	identity.CreatedAt, identity.UpdatedAt = now, now
	r.identities[key] = *identity
	return nil
}

func (r *MemoryRepository) UpdateIdentityPayload(ctx context.Context, provider core.Provider, externalID string, payload core.Payload) error {
	if err := ctxError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := core.IdentityKey(provider, externalID)
	id, ok := r.identities[key]
	if !ok {
		return core.ErrNotFound
	}
	id.Payload = payload
	id.UpdatedAt = r.now()
	r.identities[key] = id
	return nil
}

func (r *MemoryRepository) DeleteIdentity(ctx context.Context, userID string, provider core.Provider, externalID string) error {
	if err := ctxError(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return core.ErrNotFound
	}
	key := core.IdentityKey(provider, externalID)
	id, ok := r.identities[key]
	if !ok || id.UserID != userID {
		return core.ErrNotFound
	}

	count := 0
	for _, other := range r.identities {
		if other.UserID == userID {
			count++
		}
	}
	if count <= 1 {
		return core.ErrLastIdentity
	}

	delete(r.identities, key)
	return nil
}

func (r *MemoryRepository) UpdateHandle(ctx context.Context, userID, handle string) (*core.User, error) {
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	lower := strings.ToLower(handle)
	if owner, taken := r.handles[lower]; taken && owner != userID {
		return nil, core.ErrUsernameTaken
	}

	delete(r.handles, strings.ToLower(u.Handle))
	r.handles[lower] = userID
	u.Handle = handle
	u.UpdatedAt = r.now()
	r.users[userID] = u
	return &u, nil
}

func (r *MemoryRepository) SetActive(ctx context.Context, userID string, active bool) (*core.User, error) {
	if err := ctxError(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	u.Active = active
	u.UpdatedAt = r.now()
	r.users[userID] = u
	return &u, nil
}

func ctxError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("repository: %w: %w", core.ErrUnavailable, err)
	}
	return nil
}

// UserCount returns the number of stored users
func (r *MemoryRepository) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
