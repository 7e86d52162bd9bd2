package domain

import "time"

// Type discriminates the wire message variants.
type Type string

const (
	// TypeMessage is a chat message. Content is ciphertext under the
	// session secret of whichever connection carries it.
	TypeMessage Type = "message"
	// TypeJoin announces a user joining. Content is a plaintext notice.
	TypeJoin Type = "join"
	// TypeLeave announces a user leaving. Content is a plaintext notice.
	TypeLeave Type = "leave"
	// TypePublicKey carries the client's PEM public key upstream, and the
	// wrapped session secret downstream.
	TypePublicKey Type = "public_key"
	// TypeAuth carries the password, encrypted under the session secret.
	TypeAuth Type = "auth"
	// TypeAuthResult reports the outcome of the auth sub-protocol.
	TypeAuthResult Type = "auth_result"
	// TypeUsernameResult reports username arbitration.
	TypeUsernameResult Type = "username_result"
)

// Confidential reports whether the type carries encrypted content, and so
// must travel with a nonce and an integrity tag.
func (t Type) Confidential() bool { return t == TypeMessage || t == TypeAuth }

// Result codes carried in the content of auth_result and username_result.
const (
	ResultAuthenticated    = "authenticated"
	ResultAuthFailed       = "authentication_failed"
	ResultPasswordRequired = "password_required"
	ResultUsernameTaken    = "taken"
)

// LeaveCommand is the chat content that requests a graceful disconnect.
const LeaveCommand = "/leave"

// DefaultPort is the relay's default listening port.
const DefaultPort = 25525

// ServerSender is the sender name on messages originated by the relay.
const ServerSender Username = "server"

// Username identifies a connected client.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Message is one wire record. Records are encoded as a single line of JSON
// terminated by a line feed; binary fields (wrapped key, ciphertext, nonce,
// tag) are base64 inside the record.
//
// Nonce and Tag are present iff the type is confidential. SentAt is the
// sender's clock; ReceivedAt is stamped by the relay on re-encrypted chat
// messages so both timestamps survive the relay hop.
type Message struct {
	Type       Type     `json:"type"`
	Sender     Username `json:"sender,omitempty"`
	Content    string   `json:"content,omitempty"`
	Nonce      string   `json:"nonce,omitempty"`
	Tag        string   `json:"tag,omitempty"`
	SentAt     int64    `json:"sent_at,omitempty"`
	ReceivedAt int64    `json:"received_at,omitempty"`
	Password   string   `json:"password,omitempty"`
}

// Now returns the current wall clock in the wire timestamp unit (unix ms).
func Now() int64 { return time.Now().UnixMilli() }
