// Package relay implements the server side of the protocol: a TCP listener,
// a per-connection handler state machine, the session registry, and
// per-recipient re-encryption of chat messages.
//
// The relay is a trusted intermediary. It establishes one symmetric session
// secret per connection (wrapped under the client's public key), decrypts
// inbound chat messages with the sender's secret, and independently
// re-encrypts the plaintext for every other authenticated session under
// that session's own secret.
//
// Concurrency: one goroutine reads each connection and one goroutine writes
// it; the registry is the only cross-connection state and sits behind a
// single mutex. Outbound delivery is non-blocking so one stalled peer never
// delays the others.
package relay
