package service

import (
	"fmt"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// detectionOrder is the order in which address shapes are tried when no provider is given.
// base58 matches the widest set of strings and goes last.
var detectionOrder = []core.Provider{core.ProviderEVM, core.ProviderCosmos, core.ProviderSolana}

// Verifiers dispatches wallet operations to the verifier registered for a provider
type Verifiers struct {
	byProvider map[core.Provider]ports.SignatureVerifier
}

// NewVerifiers registers one verifier per provider. A later verifier for the same provider wins.
func NewVerifiers(vs ...ports.SignatureVerifier) *Verifiers {
	m := make(map[core.Provider]ports.SignatureVerifier, len(vs))
	for _, v := range vs {
		m[v.Provider()] = v
	}
	return &Verifiers{byProvider: m}
}

// Get returns the verifier for a wallet provider
func (v *Verifiers) Get(provider core.Provider) (ports.SignatureVerifier, error) {
	if !provider.IsWallet() {
		return nil, fmt.Errorf("%q is not a wallet provider: %w", provider, core.ErrUnknownProvider)
	}
	sv, ok := v.byProvider[provider]
	if !ok {
		return nil, fmt.Errorf("no verifier for %q: %w", provider, core.ErrUnknownProvider)
	}
	return sv, nil
}

// Resolve picks the verifier for address and returns the canonical address.
// When provider is empty it is detected from the address shape.
func (v *Verifiers) Resolve(provider core.Provider, address string) (ports.SignatureVerifier, string, error) {
	if provider != "" {
		sv, err := v.Get(provider)
		if err != nil {
			return nil, "", err
		}
		canonical, err := sv.ValidateAddress(address)
		if err != nil {
			return nil, "", err
		}
		return sv, canonical, nil
	}

	for _, p := range detectionOrder {
		sv, ok := v.byProvider[p]
		if !ok {
			continue
		}
		if canonical, err := sv.ValidateAddress(address); err == nil {
			return sv, canonical, nil
		}
	}
	return nil, "", core.ErrInvalidAddress
}
