// Package crypto exposes the primitives used by confab.
//
// Contents
//
//   - RSA-2048 key pair generation with PEM (PKIX) public key export
//     (GenerateKeyPair, MarshalPublicKeyPEM, ParsePublicKeyPEM)
//   - Session secret generation and RSA-OAEP key wrap
//     (NewSessionSecret, WrapSecret, UnwrapSecret)
//   - Authenticated symmetric encryption with a detached tag
//     (Seal, Open)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Nonces are drawn inside Seal from crypto/rand, never supplied by the
// caller, so nonce reuse under one key cannot happen by construction.
// Open verifies the tag before releasing any plaintext. Callers should
// treat session secrets as sensitive and wipe them on teardown.
package crypto
