package crypto

import "crypto/subtle"

// Zero overwrites b with zeros in a constant-time friendly way. Session
// secrets and decrypted passwords go through here on every teardown path.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
