package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	pem, err := MarshalPublicKeyPEM(keys.Public)
	require.NoError(t, err)
	assert.Contains(t, pem, "BEGIN PUBLIC KEY")

	pub, err := ParsePublicKeyPEM(pem)
	require.NoError(t, err)
	assert.True(t, keys.Public.Equal(pub))
	assert.Equal(t, Fingerprint(keys.Public), Fingerprint(pub))
}

func TestParsePublicKeyPEMRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKeyPEM("not a pem block")
	require.Error(t, err)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	secret, err := NewSessionSecret()
	require.NoError(t, err)
	require.Len(t, secret, SecretBytes)

	wrapped, err := WrapSecret(keys.Public, secret)
	require.NoError(t, err)

	got, err := UnwrapSecret(keys.Private, wrapped)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestUnwrapRejectsWrongKey(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	mallory, err := GenerateKeyPair()
	require.NoError(t, err)
	secret, err := NewSessionSecret()
	require.NoError(t, err)

	wrapped, err := WrapSecret(alice.Public, secret)
	require.NoError(t, err)

	_, err = UnwrapSecret(mallory.Private, wrapped)
	require.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewSessionSecret()
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	nonce, ct, tag, err := Seal(key, plaintext)
	require.NoError(t, err)

	got, err := Open(key, nonce, ct, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

// Flipping any bit of ciphertext or tag must fail closed.
func TestOpenFailsClosedOnTampering(t *testing.T) {
	key, err := NewSessionSecret()
	require.NoError(t, err)
	nonce, ct, tag, err := Seal(key, []byte("attack at dawn"))
	require.NoError(t, err)

	flipEachBit := func(encoded string) []string {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		var out []string
		for i := range raw {
			for bit := 0; bit < 8; bit++ {
				mut := append([]byte{}, raw...)
				mut[i] ^= 1 << bit
				out = append(out, base64.StdEncoding.EncodeToString(mut))
			}
		}
		return out
	}

	for _, badCT := range flipEachBit(ct) {
		_, err := Open(key, nonce, badCT, tag)
		require.ErrorIs(t, err, ErrDecryptFailed)
	}
	for _, badTag := range flipEachBit(tag) {
		_, err := Open(key, nonce, ct, badTag)
		require.ErrorIs(t, err, ErrDecryptFailed)
	}
}

func TestOpenFailsClosedOnMalformedInput(t *testing.T) {
	key, err := NewSessionSecret()
	require.NoError(t, err)
	nonce, ct, tag, err := Seal(key, []byte("hello"))
	require.NoError(t, err)

	_, err = Open(key, "!!!", ct, tag)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	_, err = Open(key, base64.StdEncoding.EncodeToString([]byte("short")), ct, tag)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	_, err = Open(key, nonce, "!!!", tag)
	assert.ErrorIs(t, err, ErrDecryptFailed)
	_, err = Open(key, nonce, ct, "!!!")
	assert.ErrorIs(t, err, ErrDecryptFailed)
	_, err = Open(key[:16], nonce, ct, tag)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key1, err := NewSessionSecret()
	require.NoError(t, err)
	key2, err := NewSessionSecret()
	require.NoError(t, err)

	nonce, ct, tag, err := Seal(key1, []byte("hello"))
	require.NoError(t, err)
	_, err = Open(key2, nonce, ct, tag)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

// Nonces are drawn inside Seal; across many encryptions under one key no
// two may repeat.
func TestSealNonceUniqueness(t *testing.T) {
	key, err := NewSessionSecret()
	require.NoError(t, err)

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		nonce, _, _, err := Seal(key, []byte("x"))
		require.NoError(t, err)
		_, dup := seen[nonce]
		require.False(t, dup, "nonce repeated after %d encryptions", i)
		seen[nonce] = struct{}{}
	}
}
