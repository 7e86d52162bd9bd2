package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// SecretBytes is the symmetric key size (256 bits).
	SecretBytes = chacha20poly1305.KeySize
	// NonceBytes is the AEAD nonce size.
	NonceBytes = chacha20poly1305.NonceSize
	// TagBytes is the integrity tag size (128 bits).
	TagBytes = chacha20poly1305.Overhead
)

// ErrDecryptFailed is returned by Open for any tag mismatch or malformed
// input. No partial plaintext is ever released.
var ErrDecryptFailed = errors.New("decrypt failed")

// Seal encrypts plaintext under a session secret with ChaCha20-Poly1305.
// A fresh random nonce is drawn per call; callers cannot supply one, so
// nonce reuse under a key is ruled out by construction. The nonce,
// ciphertext and detached tag are returned as independent base64 strings.
func Seal(key, plaintext []byte) (nonce, ciphertext, tag string, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", "", "", fmt.Errorf("seal: %w", err)
	}
	n := make([]byte, NonceBytes)
	if _, err := rand.Read(n); err != nil {
		return "", "", "", fmt.Errorf("seal: %w", err)
	}
	sealed := aead.Seal(nil, n, plaintext, nil)
	ct, t := sealed[:len(sealed)-TagBytes], sealed[len(sealed)-TagBytes:]
	return base64.StdEncoding.EncodeToString(n),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(t),
		nil
}

// Open decrypts a Seal result, verifying the tag before releasing any
// plaintext. Malformed encodings, a wrong-sized nonce, or any bit flip in
// ciphertext or tag yield ErrDecryptFailed.
func Open(key []byte, nonce, ciphertext, tag string) ([]byte, error) {
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil || len(n) != NonceBytes {
		return nil, ErrDecryptFailed
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	t, err := base64.StdEncoding.DecodeString(tag)
	if err != nil || len(t) != TagBytes {
		return nil, ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plain, err := aead.Open(nil, n, append(ct, t...), nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}
