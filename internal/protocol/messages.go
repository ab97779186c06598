// Package protocol defines the JSON envelope exchanged with remote monitor
// clients over WebSocket. Video frames travel as separate binary JPEG
// messages and never use this envelope.
package protocol

import "encoding/json"

// Message types
const (
	TypePing      = "ping"
	TypePong      = "pong"
	TypeTelemetry = "telemetry"
	TypeCommand   = "command"
	TypeError     = "error"
)

// Command actions a remote client may request.
const (
	ActionLeft     = "left"
	ActionRight    = "right"
	ActionUp       = "up"
	ActionDown     = "down"
	ActionHome     = "home"
	ActionSnapshot = "snapshot"
)

// Error codes
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrUnknownAction  = "UNKNOWN_ACTION"
)

// Message is the base envelope for all control-channel messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// TelemetryPayload mirrors the viewer overlay for remote clients.
type TelemetryPayload struct {
	Model           string  `json:"model,omitempty"`
	StreamURL       string  `json:"stream_url,omitempty"`
	Pan             float64 `json:"pan"`
	Tilt            float64 `json:"tilt"`
	DroppedCommands uint64  `json:"dropped_commands"`
	DroppedFrames   uint64  `json:"dropped_frames"`
}

// CommandPayload carries a remote motion or snapshot request.
type CommandPayload struct {
	Action string `json:"action"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
