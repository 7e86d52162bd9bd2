// Package wire turns the raw byte stream into discrete protocol messages
// and back.
//
// The transport is a reliable, ordered byte stream with no inherent message
// boundaries, so arbitrary-sized chunks arrive at arbitrary offsets. Framer
// buffers chunks across calls and splits on the delimiter byte; Marshal and
// Unmarshal convert between a completed frame and a domain.Message.
//
// A frame that fails to parse is reported to the caller and dropped; it
// never disturbs the framer's buffer or the connection.
package wire
