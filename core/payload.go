package core

import (
	"encoding/json"
	"fmt"
)

// Payload is the provider-specific data stored with an Identity.
// The set of implementations is closed: EmailPayload, EVMPayload, SolanaPayload, CosmosPayload.
type Payload interface {
	Provider() Provider
	isPayload()
}

// EmailPayload carries the password hash of an email identity
type EmailPayload struct {
	PasswordHash string `json:"password_hash"`
}

// EVMPayload carries the checksummed address of an EVM wallet
type EVMPayload struct {
	Address string `json:"address"`
}

// SolanaPayload carries the base58 address (public key) of a Solana wallet
type SolanaPayload struct {
	Address string `json:"address"`
}

// CosmosPayload carries the bech32 address and the compressed secp256k1 public key
type CosmosPayload struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"` // base64
}

func (EmailPayload) Provider() Provider  { return ProviderEmail }
func (EVMPayload) Provider() Provider    { return ProviderEVM }
func (SolanaPayload) Provider() Provider { return ProviderSolana }
func (CosmosPayload) Provider() Provider { return ProviderCosmos }

func (EmailPayload) isPayload()  {}
func (EVMPayload) isPayload()    {}
func (SolanaPayload) isPayload() {}
func (CosmosPayload) isPayload() {}

// MarshalPayload encodes a payload for storage
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload using the provider tag to pick the variant
func UnmarshalPayload(provider Provider, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch provider {
	case ProviderEmail:
		var v EmailPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ProviderEVM:
		var v EVMPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ProviderSolana:
		var v SolanaPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ProviderCosmos:
		var v CosmosPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("payload for %q: %w", provider, ErrUnknownProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", provider, err)
	}
	return p, nil
}
