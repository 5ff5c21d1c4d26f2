package messages

import "fmt"

// Error codes
const (
	ErrCodeInvalidMessage   = "INVALID_MESSAGE"
	ErrCodeUpstreamError    = "UPSTREAM_ERROR"
	ErrCodeSessionFailed    = "SESSION_FAILED"
	ErrCodeSessionNotReady  = "SESSION_NOT_READY"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeBufferFull       = "BUFFER_FULL"
)

// Message types
const (
	TypeAudio  = "audio"
	TypeText   = "text"
	TypeStatus = "status"
	TypeError  = "error"
)

// Statuses
const (
	StatusConnected     = "connected"
	StatusSessionActive = "session_active"
	StatusTurnComplete  = "turn_complete"
	StatusDisconnected  = "disconnected"
	StatusPong          = "pong"
)

// Text sources
const (
	SourceASR  = "asr"
	SourceChat = "chat"
	SourceTTS  = "tts"
)

// ServerMessage represents a message sent to the browser
type ServerMessage struct {
	Type      string `json:"type"` // "audio", "text", "status", "error"
	SessionID string `json:"sessionId,omitempty"`
	Payload   any    `json:"payload"`
}

// AudioResponsePayload contains audio data for client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM audio
	MimeType string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// TextResponsePayload contains recognized or generated text
type TextResponsePayload struct {
	Source  string `json:"source"` // "asr", "chat", "tts"
	Text    string `json:"text"`
	Interim bool   `json:"interim,omitempty"`
}

// StatusPayload contains status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Round   int    `json:"round,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PCMMimeType describes raw little-endian 16-bit PCM at rate.
func PCMMimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data string, rate int) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: PCMMimeType(rate),
		},
	}
}

// NewTextMessage creates a text response message
func NewTextMessage(sessionID, source, text string, interim bool) *ServerMessage {
	return &ServerMessage{
		Type:      TypeText,
		SessionID: sessionID,
		Payload: TextResponsePayload{
			Source:  source,
			Text:    text,
			Interim: interim,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewTurnCompleteMessage reports the end of a spoken reply.
func NewTurnCompleteMessage(sessionID string, round int) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status: StatusTurnComplete,
			Round:  round,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
