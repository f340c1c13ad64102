package ports

import "github.com/layer-3/sigil/core"

// Tokenizer converts between sessions and signed bearer tokens
type Tokenizer interface {
	// SessionToAccessToken signs the session claims
	SessionToAccessToken(session *core.Session) (string, error)

	// AccessTokenToSession verifies a token and returns its claims.
	// Fails with core.ErrTokenExpired or core.ErrUnauthorized.
	AccessTokenToSession(token string) (*core.Session, error)
}
