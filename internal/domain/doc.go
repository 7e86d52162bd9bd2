// Package domain defines the wire-level message record shared by the relay
// server and the client, the result codes carried in typed result messages,
// and the username policy.
package domain
