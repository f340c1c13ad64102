package http

import (
	"time"

	"github.com/layer-3/sigil/core"
)

type userView struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// identityView never carries the payload, which may hold a password hash
type identityView struct {
	Provider   core.Provider `json:"provider"`
	ExternalID string        `json:"external_id"`
	CreatedAt  time.Time     `json:"created_at"`
}

type authView struct {
	User       userView       `json:"user"`
	Identities []identityView `json:"identities"`
	Token      string         `json:"token"`
	TokenType  string         `json:"token_type"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

func newUserView(u core.User) userView {
	return userView{
		ID:        u.ID,
		Handle:    u.Handle,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func newIdentityViews(ids []core.Identity) []identityView {
	out := make([]identityView, 0, len(ids))
	for _, id := range ids {
		out = append(out, identityView{Provider: id.Provider, ExternalID: id.ExternalID, CreatedAt: id.CreatedAt})
	}
	return out
}

func newAuthView(res *core.AuthResult) authView {
	return authView{
		User:       newUserView(res.User),
		Identities: newIdentityViews(res.Identities),
		Token:      res.Token,
		TokenType:  "bearer",
		ExpiresAt:  res.Session.ExpiresAt,
	}
}
