package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// Message carries one ingest payload through the queue. Payload is the
// raw dashboard payload, untouched.
type Message struct {
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewMessage(source string, payload []byte) *Message {
	return &Message{
		Source:    source,
		Payload:   json.RawMessage(payload),
		Timestamp: time.Now(),
	}
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON decodes an envelope. A missing payload is an error.
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if len(msg.Payload) == 0 {
		return nil, errors.New("message has no payload")
	}
	return &msg, nil
}
