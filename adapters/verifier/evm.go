package verifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// EVMVerifier recovers the signer of an EIP-191 personal_sign message
type EVMVerifier struct{}

// NewEVMVerifier creates a new EVM verifier
func NewEVMVerifier() *EVMVerifier {
	return &EVMVerifier{}
}

var _ ports.SignatureVerifier = (*EVMVerifier)(nil)

func (v *EVMVerifier) Provider() core.Provider { return core.ProviderEVM }

// ValidateAddress accepts 0x-prefixed hex addresses. Mixed-case input must carry a
// valid EIP-55 checksum. The checksummed form is returned.
func (v *EVMVerifier) ValidateAddress(address string) (string, error) {
	if !evmAddressRe.MatchString(address) {
		return "", core.ErrInvalidAddress
	}
	addr := common.HexToAddress(address)
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != address {
		return "", fmt.Errorf("bad checksum: %w", core.ErrInvalidAddress)
	}
	return addr.Hex(), nil
}

// Verify recovers the public key from a 65-byte [R || S || V] signature over the
// personal-message hash of message and compares the derived address with address.
func (v *EVMVerifier) Verify(address, message, signature, _ string) (core.VerifiedIdentity, error) {
	canonical, err := v.ValidateAddress(address)
	if err != nil {
		return core.VerifiedIdentity{}, err
	}

	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return core.VerifiedIdentity{}, fmt.Errorf("failed to decode signature: %w", core.ErrSignatureInvalid)
	}
	if len(sig) != crypto.SignatureLength {
		return core.VerifiedIdentity{}, fmt.Errorf("signature must be 65 bytes: %w", core.ErrSignatureInvalid)
	}

	// Wallets emit V as 27/28; recovery expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return core.VerifiedIdentity{}, fmt.Errorf("bad recovery id: %w", core.ErrSignatureInvalid)
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return core.VerifiedIdentity{}, fmt.Errorf("failed to recover signer: %w", core.ErrSignatureInvalid)
	}
	if crypto.PubkeyToAddress(*pub) != common.HexToAddress(canonical) {
		return core.VerifiedIdentity{}, core.ErrSignatureInvalid
	}

	return core.VerifiedIdentity{
		Provider:   core.ProviderEVM,
		ExternalID: canonical,
		Payload:    core.EVMPayload{Address: canonical},
	}, nil
}
