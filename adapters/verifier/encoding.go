package verifier

import (
	"encoding/base64"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
)

// decodeHexOrBase64 accepts 0x-prefixed hex, or standard/unpadded base64
func decodeHexOrBase64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode("0x" + s[2:])
		return b, err == nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, true
	}
	return nil, false
}

// decodeSolanaSignature accepts base58 (wallet default), then falls back to hex/base64
func decodeSolanaSignature(s string) ([]byte, bool) {
	if b, err := base58.Decode(s); err == nil && len(b) == 64 {
		return b, true
	}
	return decodeHexOrBase64(s)
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
