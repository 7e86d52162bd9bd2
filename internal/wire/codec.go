package wire

import (
	"encoding/json"
	"fmt"

	"confab/internal/domain"
)

// Marshal encodes a message as one delimiter-terminated JSON record.
func Marshal(m domain.Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}
	return append(b, Delimiter), nil
}

// Unmarshal decodes one completed frame. A failure means the frame is
// dropped by the caller; the stream itself stays usable.
func Unmarshal(frame []byte) (domain.Message, error) {
	var m domain.Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return domain.Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return domain.Message{}, fmt.Errorf("decode frame: missing type")
	}
	return m, nil
}
