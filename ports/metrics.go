package ports

import "github.com/layer-3/sigil/core"

// Metrics records auth outcomes
type Metrics interface {
	ChallengeIssued(provider core.Provider)
	Verification(provider core.Provider, outcome string)
	EmailLogin(outcome string)
}
