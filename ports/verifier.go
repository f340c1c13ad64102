package ports

import "github.com/layer-3/sigil/core"

// SignatureVerifier checks wallet signatures for a single provider.
// Implementations perform cryptographic work only; nonce handling belongs to the caller.
type SignatureVerifier interface {
	Provider() core.Provider

	// ValidateAddress checks address syntax and returns its canonical encoding
	ValidateAddress(address string) (string, error)

	// Verify checks that signature over message was produced by the key owning address.
	// publicKey is only consulted by providers that cannot recover it from the signature.
	Verify(address, message, signature, publicKey string) (core.VerifiedIdentity, error)
}
