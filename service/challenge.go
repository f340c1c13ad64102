package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

const (
	// DefaultNonceTTL bounds the time between a challenge and its verification
	DefaultNonceTTL = 5 * time.Minute

	nonceBytes = 32

	statement    = "Sign this message to prove you own this wallet. It does not authorize any transaction."
	noncePrefix  = "Nonce: "
	issuedPrefix = "Issued At: "
)

var chainNames = map[core.Provider]string{
	core.ProviderEVM:    "Ethereum",
	core.ProviderSolana: "Solana",
	core.ProviderCosmos: "Cosmos",
}

// ChallengeBuilder issues nonces and renders the message a wallet signs
type ChallengeBuilder struct {
	store     ports.NonceStore
	verifiers *Verifiers
	domain    string
	ttl       time.Duration
	now       func() time.Time
}

// NewChallengeBuilder creates a challenge builder. A zero ttl selects DefaultNonceTTL.
func NewChallengeBuilder(store ports.NonceStore, verifiers *Verifiers, domain string, ttl time.Duration) *ChallengeBuilder {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &ChallengeBuilder{
		store:     store,
		verifiers: verifiers,
		domain:    domain,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Build validates address, stores a fresh nonce under (provider, canonical address) and
// returns the rendered challenge. Any earlier nonce for the same key is replaced.
func (b *ChallengeBuilder) Build(ctx context.Context, provider core.Provider, address string) (*core.Challenge, error) {
	sv, canonical, err := b.verifiers.Resolve(provider, address)
	if err != nil {
		return nil, err
	}
	provider = sv.Provider()

	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	if err := b.store.Put(ctx, nonceKey(provider, canonical), nonce, b.ttl); err != nil {
		return nil, fmt.Errorf("failed to store nonce: %w", err)
	}

	issuedAt := b.now().Truncate(time.Second)
	return &core.Challenge{
		Provider:  provider,
		Address:   address,
		Nonce:     nonce,
		Message:   renderChallenge(b.domain, provider, address, nonce, issuedAt),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(b.ttl),
	}, nil
}

func nonceKey(provider core.Provider, canonical string) string {
	return core.IdentityKey(provider, canonical)
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func renderChallenge(domain string, provider core.Provider, address, nonce string, issuedAt time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s wants you to sign in with your %s account:\n", domain, chainNames[provider])
	sb.WriteString(address)
	sb.WriteString("\n\n")
	sb.WriteString(statement)
	sb.WriteString("\n\n")
	sb.WriteString(noncePrefix + nonce + "\n")
	sb.WriteString(issuedPrefix + issuedAt.Format(time.RFC3339))
	return sb.String()
}

// challengeFields are the parts of a signed message checked against the issued nonce
type challengeFields struct {
	Address string
	Nonce   string
}

// parseChallenge extracts the address and nonce lines from a rendered challenge
func parseChallenge(message string) (challengeFields, bool) {
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	if len(lines) < 2 || !strings.Contains(lines[0], " wants you to sign in with your ") {
		return challengeFields{}, false
	}

	f := challengeFields{Address: strings.TrimSpace(lines[1])}
	for _, line := range lines[2:] {
		if v, ok := strings.CutPrefix(line, noncePrefix); ok {
			if f.Nonce != "" {
				return challengeFields{}, false
			}
			f.Nonce = v
		}
	}
	if f.Address == "" || f.Nonce == "" {
		return challengeFields{}, false
	}
	return f, true
}
