package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// NewSessionSecret draws a fresh 256-bit symmetric key. The relay generates
// one per connection; its lifetime is the connection's lifetime.
func NewSessionSecret() ([]byte, error) {
	secret := make([]byte, SecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return secret, nil
}

// WrapSecret encrypts a session secret under the client's public key with
// RSA-OAEP, so only the matching private key can recover it. The result is
// base64 for text transport.
func WrapSecret(pub *rsa.PublicKey, secret []byte) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, secret, nil)
	if err != nil {
		return "", fmt.Errorf("wrap session secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapSecret recovers a wrapped session secret. Anything that does not
// decrypt to exactly SecretBytes fails closed.
func UnwrapSecret(priv *rsa.PrivateKey, wrapped string) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrap session secret: %w", err)
	}
	secret, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrap session secret: %w", err)
	}
	if len(secret) != SecretBytes {
		return nil, fmt.Errorf("unwrap session secret: got %d bytes, want %d", len(secret), SecretBytes)
	}
	return secret, nil
}
