package verifier

import (
	"crypto/ed25519"
	"fmt"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/mr-tron/base58"
)

// SolanaVerifier checks Ed25519 signatures over the raw message bytes.
// A Solana address is the base58 encoding of the signer's public key.
type SolanaVerifier struct{}

// NewSolanaVerifier creates a new Solana verifier
func NewSolanaVerifier() *SolanaVerifier {
	return &SolanaVerifier{}
}

var _ ports.SignatureVerifier = (*SolanaVerifier)(nil)

func (v *SolanaVerifier) Provider() core.Provider { return core.ProviderSolana }

// ValidateAddress requires a base58 string decoding to exactly 32 bytes
func (v *SolanaVerifier) ValidateAddress(address string) (string, error) {
	if _, err := solanaPublicKey(address); err != nil {
		return "", err
	}
	return address, nil
}

func (v *SolanaVerifier) Verify(address, message, signature, _ string) (core.VerifiedIdentity, error) {
	pub, err := solanaPublicKey(address)
	if err != nil {
		return core.VerifiedIdentity{}, err
	}

	sig, ok := decodeSolanaSignature(signature)
	if !ok || len(sig) != ed25519.SignatureSize {
		return core.VerifiedIdentity{}, fmt.Errorf("malformed signature: %w", core.ErrSignatureInvalid)
	}

	if !ed25519.Verify(pub, []byte(message), sig) {
		return core.VerifiedIdentity{}, core.ErrSignatureInvalid
	}

	return core.VerifiedIdentity{
		Provider:   core.ProviderSolana,
		ExternalID: address,
		Payload:    core.SolanaPayload{Address: address},
	}, nil
}

func solanaPublicKey(address string) (ed25519.PublicKey, error) {
	if address == "" {
		return nil, core.ErrInvalidAddress
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("base58 decode failed: %w", core.ErrInvalidAddress)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be 32 bytes: %w", core.ErrInvalidAddress)
	}
	// Reject non-canonical encodings such as extra leading '1' characters
	if base58.Encode(decoded) != address {
		return nil, fmt.Errorf("non-canonical base58: %w", core.ErrInvalidAddress)
	}
	return ed25519.PublicKey(decoded), nil
}
