package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// KeyPairBits is the RSA modulus size for client key pairs.
const KeyPairBits = 2048

const publicKeyPEMType = "PUBLIC KEY"

// KeyPair is a client's asymmetric pair. The public key travels to the
// relay; the private key never leaves the process.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA-2048 pair. Clients generate one per
// process start; nothing is persisted.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyPairBits)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// MarshalPublicKeyPEM exports a public key as a PKIX PEM block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: der})), nil
}

// ParsePublicKeyPEM parses a PKIX PEM block into an RSA public key.
func ParsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != publicKeyPEMType {
		return nil, errors.New("parse public key: not a PEM public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("parse public key: unsupported key type %T", key)
	}
	if pub.Size()*8 < KeyPairBits {
		return nil, fmt.Errorf("parse public key: %d-bit key below minimum", pub.Size()*8)
	}
	return pub, nil
}

// Fingerprint returns a short identifier for a public key, for logs and
// display.
func Fingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:10])
}
