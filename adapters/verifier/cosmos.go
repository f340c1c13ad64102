package verifier

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address derivation is defined over RIPEMD-160
)

// DefaultCosmosPrefixes are the bech32 human-readable prefixes accepted by default
var DefaultCosmosPrefixes = []string{"cosmos", "osmo", "juno", "stars", "akash"}

const cosmosAddressLength = 20

// CosmosVerifier checks secp256k1 signatures over the SHA-256 digest of the message.
// The public key cannot be recovered from the signature, so the client supplies it and the
// verifier re-derives the bech32 address from it.
type CosmosVerifier struct {
	prefixes map[string]struct{}
}

// NewCosmosVerifier creates a verifier accepting the given prefixes, or DefaultCosmosPrefixes
func NewCosmosVerifier(prefixes ...string) *CosmosVerifier {
	if len(prefixes) == 0 {
		prefixes = DefaultCosmosPrefixes
	}
	allowed := make(map[string]struct{}, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" {
			allowed[p] = struct{}{}
		}
	}
	return &CosmosVerifier{prefixes: allowed}
}

var _ ports.SignatureVerifier = (*CosmosVerifier)(nil)

func (v *CosmosVerifier) Provider() core.Provider { return core.ProviderCosmos }

// ValidateAddress requires a lower-case bech32 address with an allow-listed prefix and a
// 20-byte payload
func (v *CosmosVerifier) ValidateAddress(address string) (string, error) {
	if address == "" || address != strings.ToLower(address) {
		return "", core.ErrInvalidAddress
	}
	hrp, data, err := bech32.DecodeToBase256(address)
	if err != nil {
		return "", fmt.Errorf("bech32 decode failed: %w", core.ErrInvalidAddress)
	}
	if _, ok := v.prefixes[hrp]; !ok {
		return "", fmt.Errorf("prefix %q not allowed: %w", hrp, core.ErrInvalidAddress)
	}
	if len(data) != cosmosAddressLength {
		return "", fmt.Errorf("address must be 20 bytes: %w", core.ErrInvalidAddress)
	}
	return address, nil
}

func (v *CosmosVerifier) Verify(address, message, signature, publicKey string) (core.VerifiedIdentity, error) {
	if _, err := v.ValidateAddress(address); err != nil {
		return core.VerifiedIdentity{}, err
	}
	hrp, _, _ := bech32.DecodeToBase256(address)

	pub, err := compressedPubkey(publicKey)
	if err != nil {
		return core.VerifiedIdentity{}, err
	}

	sig, ok := decodeHexOrBase64(signature)
	if !ok {
		return core.VerifiedIdentity{}, fmt.Errorf("malformed signature: %w", core.ErrSignatureInvalid)
	}
	if len(sig) == crypto.SignatureLength {
		sig = sig[:crypto.RecoveryIDOffset]
	}
	if len(sig) != crypto.RecoveryIDOffset {
		return core.VerifiedIdentity{}, fmt.Errorf("signature must be 64 bytes: %w", core.ErrSignatureInvalid)
	}

	digest := sha256.Sum256([]byte(message))
	if !crypto.VerifySignature(pub, digest[:], sig) {
		return core.VerifiedIdentity{}, core.ErrSignatureInvalid
	}

	// A valid signature only proves possession of the supplied key; the key must also own the address
	derived, err := CosmosAddress(hrp, pub)
	if err != nil || derived != address {
		return core.VerifiedIdentity{}, fmt.Errorf("public key does not match address: %w", core.ErrSignatureInvalid)
	}

	return core.VerifiedIdentity{
		Provider:   core.ProviderCosmos,
		ExternalID: address,
		Payload: core.CosmosPayload{
			Address:   address,
			PublicKey: encodeBase64(pub),
		},
	}, nil
}

// CosmosAddress derives the bech32 account address of a compressed secp256k1 public key
func CosmosAddress(hrp string, compressed []byte) (string, error) {
	sha := sha256.Sum256(compressed)
	h := ripemd160.New()
	h.Write(sha[:])
	return bech32.EncodeFromBase256(hrp, h.Sum(nil))
}

func compressedPubkey(s string) ([]byte, error) {
	raw, ok := decodeHexOrBase64(s)
	if !ok {
		return nil, fmt.Errorf("public key required: %w", core.ErrSignatureInvalid)
	}
	switch len(raw) {
	case 33:
		if _, err := crypto.DecompressPubkey(raw); err != nil {
			return nil, fmt.Errorf("bad public key: %w", core.ErrSignatureInvalid)
		}
		return raw, nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return nil, fmt.Errorf("bad public key: %w", core.ErrSignatureInvalid)
		}
		return crypto.CompressPubkey(pub), nil
	}
	return nil, fmt.Errorf("public key must be 33 or 65 bytes: %w", core.ErrSignatureInvalid)
}
