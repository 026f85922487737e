package webhook

import (
	"crypto/hmac"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SignatureHeader carries the payload signature on outbound and inbound
// webhook requests.
const SignatureHeader = "X-Escrow-Signature"

// Signer signs webhook payloads with HMAC over Keccak-256, the digest the
// rest of the escrow tooling already speaks.
type Signer struct {
	key []byte
}

func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign returns the hex-encoded signature of body.
func (s *Signer) Sign(body []byte) string {
	mac := hmac.New(sha3.NewLegacyKeccak256, s.key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body. Comparison is constant time.
func (s *Signer) Verify(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha3.NewLegacyKeccak256, s.key)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
