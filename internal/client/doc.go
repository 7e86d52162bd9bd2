// Package client implements the connection state machine for a chat
// participant:
//
//	Disconnected -> Connected -> KeyEstablished -> AwaitingPassword (optional) -> Authenticated
//
// A username collision is not fatal: the client discards its session state,
// moves through an explicit Reconnecting state (so the ensuing socket close
// is expected), asks for a new username, and redoes the key exchange on a
// fresh socket.
//
// Terminal rendering and input collection stay outside the package; inbound
// events and interactive prompts cross the boundary through the Handlers
// and Prompts function sets injected at construction.
package client
