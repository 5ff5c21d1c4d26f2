package messages

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Client message types
const (
	TypeClientText    = "text"
	TypeClientControl = "control"
)

// Control actions
const (
	ActionPing    = "ping"
	ActionEndTurn = "end_turn"
	ActionFinish  = "finish"
)

// ClientMessage represents a JSON message from the browser. Capture audio
// arrives as binary websocket frames and is not wrapped.
type ClientMessage struct {
	Type    string          `json:"type"` // "text", "control"
	Payload json.RawMessage `json:"payload"`
}

// TextPayload carries a typed question
type TextPayload struct {
	Content string `json:"content"`
}

// ControlPayload contains control commands
type ControlPayload struct {
	Action string `json:"action"` // "ping", "end_turn", "finish"
}

// ParseClientMessage decodes a browser message envelope.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodePayload decodes the envelope payload into v.
func (m *ClientMessage) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return sonic.UnmarshalString("{}", v)
	}
	return sonic.Unmarshal(m.Payload, v)
}
