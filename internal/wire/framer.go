package wire

import (
	"bytes"
	"errors"
)

// Delimiter terminates every encoded message on the wire.
const Delimiter = '\n'

// MaxFrameSize bounds how many bytes may accumulate without a delimiter
// before the peer is considered hostile.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned by Push when the undelimited remainder
// exceeds MaxFrameSize. The connection should be closed.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Framer accumulates incoming chunks and yields completed frames.
//
// The zero value is ready to use. Framer is not safe for concurrent use;
// each connection owns exactly one.
type Framer struct {
	buf []byte
}

// Push appends a chunk and returns every frame completed by it, in order,
// without their trailing delimiter. Bytes after the last delimiter are
// retained for the next call, so no byte is dropped or duplicated across
// chunk boundaries and no partial frame is ever returned.
//
// Frames already completed are returned even when Push also reports
// ErrFrameTooLarge for the remainder.
func (f *Framer) Push(chunk []byte) ([][]byte, error) {
	f.buf = append(f.buf, chunk...)

	var frames [][]byte
	for {
		i := bytes.IndexByte(f.buf, Delimiter)
		if i < 0 {
			break
		}
		if i > 0 {
			frame := make([]byte, i)
			copy(frame, f.buf[:i])
			frames = append(frames, frame)
		}
		f.buf = f.buf[i+1:]
	}

	if len(f.buf) > MaxFrameSize {
		return frames, ErrFrameTooLarge
	}
	return frames, nil
}

// Reset discards any buffered partial frame.
func (f *Framer) Reset() {
	f.buf = nil
}
