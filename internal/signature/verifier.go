package signature

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// Verifier checks that a webhook body was signed by the payment provider.
type Verifier interface {
	Verify(payload, signature string) bool
}

// RSAVerifier verifies base64 SHA1-with-RSA (PKCS #1 v1.5) signatures over
// the raw request body.
type RSAVerifier struct {
	key *rsa.PublicKey
}

// NewRSAVerifier parses a PEM public key. Both "PUBLIC KEY" (PKIX) and
// "RSA PUBLIC KEY" (PKCS #1) blocks are accepted.
func NewRSAVerifier(publicKeyPEM string) (*RSAVerifier, error) {
	key, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &RSAVerifier{key: key}, nil
}

func (v *RSAVerifier) Verify(payload, signature string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if v == nil || v.key == nil || signature == "" {
		return false
	}

	sig, err := decodeSignature(signature)
	if err != nil {
		return false
	}

	digest := sha1.Sum([]byte(payload))
	return rsa.VerifyPKCS1v15(v.key, crypto.SHA1, digest[:], sig) == nil
}

// Verify is the one-shot form used when the key is not reused.
func Verify(payload, signature, publicKey string) bool {
	v, err := NewRSAVerifier(publicKey)
	if err != nil {
		return false
	}
	return v.Verify(payload, signature)
}

// rejectAll stands in when no usable key is configured.
type rejectAll struct{}

func (rejectAll) Verify(string, string) bool { return false }

// FromKey returns the verifier for the configured key. A missing or broken
// key yields a verifier that rejects everything, together with the reason.
func FromKey(publicKeyPEM string) (Verifier, error) {
	if strings.TrimSpace(publicKeyPEM) == "" {
		return rejectAll{}, errors.New("webhook public key is not configured")
	}
	v, err := NewRSAVerifier(publicKeyPEM)
	if err != nil {
		return rejectAll{}, err
	}
	return v, nil
}

func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	// keys pasted into env files often carry literal \n
	normalized := strings.ReplaceAll(strings.TrimSpace(publicKeyPEM), `\n`, "\n")

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, errors.New("public key is not PEM encoded")
	}

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkix public key: %w", err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is %T, not RSA", parsed)
		}
		return key, nil
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs1 public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimSpace(signature)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if sig, err := enc.DecodeString(signature); err == nil {
			return sig, nil
		}
	}
	return nil, errors.New("signature is not base64")
}
