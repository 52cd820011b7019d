// Package legacy holds the HMAC-SHA1 webhook check the storefront used
// before RSA signatures. It treats the configured key as a shared secret,
// which is not how a public key should be used; nothing in the service
// wires it in.
package legacy

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Deprecated: use signature.RSAVerifier.
type HMACSHA1Verifier struct {
	secret []byte
}

// Deprecated: use signature.NewRSAVerifier.
func NewHMACSHA1Verifier(secret string) *HMACSHA1Verifier {
	return &HMACSHA1Verifier{secret: []byte(secret)}
}

// Verify compares the hex HMAC-SHA1 of payload with signature.
func (v *HMACSHA1Verifier) Verify(payload, signature string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	want, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, v.secret)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), want)
}
