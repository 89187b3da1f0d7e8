package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and verifies payload signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer for the shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the lower-case hex HMAC-SHA256 of the payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the payload. Length is
// compared first so the constant-time comparison always sees equal-length
// inputs.
func (s *Signer) VerifySignature(payload []byte, signature string) bool {
	expected := s.Sign(payload)
	if len(signature) != len(expected) {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(expected))
}
