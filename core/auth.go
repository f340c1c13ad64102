package core

import "time"

// Provider identifies how an Identity proves ownership
type Provider string

const (
	ProviderEmail  Provider = "email"
	ProviderEVM    Provider = "evm"
	ProviderSolana Provider = "solana"
	ProviderCosmos Provider = "cosmos"
)

// ParseProvider converts a wire value into a known provider
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderEmail, ProviderEVM, ProviderSolana, ProviderCosmos:
		return p, nil
	}
	return "", ErrUnknownProvider
}

// IsWallet reports whether the provider uses challenge-response authentication
func (p Provider) IsWallet() bool {
	return p == ProviderEVM || p == ProviderSolana || p == ProviderCosmos
}

func (p Provider) String() string { return string(p) }

// User is an account, independent of how it authenticates
type User struct {
	ID        string    // Opaque, stable identifier
	Handle    string    // Unique display handle
	Active    bool      // Soft-deactivation flag
	CreatedAt time.Time // When the account was created
	UpdatedAt time.Time // Last mutation of handle or active flag
}

// Identity is one provable authentication method bound to a User
type Identity struct {
	UserID     string
	Provider   Provider
	ExternalID string  // Lower-cased email or canonical wallet address
	Payload    Payload // Provider-specific data
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the globally unique (provider, external id) pair as a string
func (i Identity) Key() string {
	return IdentityKey(i.Provider, i.ExternalID)
}

// IdentityKey joins a provider and an external id
func IdentityKey(provider Provider, externalID string) string {
	return string(provider) + ":" + externalID
}

// Challenge is the message a wallet is asked to sign
type Challenge struct {
	Provider  Provider
	Address   string    // Address as supplied by the client, after validation
	Nonce     string    // Single-use random token embedded in Message
	Message   string    // Human-readable text to sign
	IssuedAt  time.Time // When the challenge was built
	ExpiresAt time.Time // When the nonce stops being consumable
}

// WalletProof is what a client submits after signing a challenge off-system
type WalletProof struct {
	Provider  Provider // Optional; detected from Address when empty
	Address   string
	Message   string
	Signature string
	PublicKey string // Required for cosmos only
}

// VerifiedIdentity is the outcome of a successful signature check
type VerifiedIdentity struct {
	Provider   Provider
	ExternalID string // Canonical chain encoding of the signer address
	Payload    Payload
}

// Session is an issued access token and the claims it carries
type Session struct {
	ID        string    // Token id (jti)
	UserID    string    // Subject
	IssuedAt  time.Time // When the token was minted
	ExpiresAt time.Time // When the token stops being accepted
}

// AuthResult is returned by every successful authentication flow
type AuthResult struct {
	User       User
	Identities []Identity
	Token      string
	Session    Session
}
