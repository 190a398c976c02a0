// Package signing produces tamper-evident HMAC-SHA256 signatures for
// archived artefacts.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

type Signer struct {
	secretKey []byte
}

func NewSigner(secretKey string) *Signer {
	return &Signer{secretKey: []byte(secretKey)}
}

// Sign covers the artefact name, its generation time and its content.
func (s *Signer) Sign(name string, generatedAt time.Time, data []byte) string {
	h := hmac.New(sha256.New, s.secretKey)
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(generatedAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Signer) Verify(name string, generatedAt time.Time, data []byte, signature string) bool {
	expected := s.Sign(name, generatedAt, data)
	return hmac.Equal([]byte(expected), []byte(signature))
}
