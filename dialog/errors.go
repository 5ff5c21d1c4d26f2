package dialog

import (
	"errors"
	"fmt"

	"github.com/room4-2/realtimedialog/protocol"
)

var (
	// ErrSessionNotReady is returned by sends outside StateSessionActive.
	// Nothing is written to the socket.
	ErrSessionNotReady = errors.New("session not ready")

	// ErrInvalidState is returned by lifecycle calls made in the wrong state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrClosed is returned once the client has shut down.
	ErrClosed = errors.New("dialog client closed")
)

// TransportError is a socket-level failure. It is fatal to the client.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, e.URL, e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RemoteSessionError is a failure reported by the server through
// ConnectionFailed, SessionFailed or DialogCommonError.
type RemoteSessionError struct {
	Event   protocol.EventID
	Message string
}

func (e *RemoteSessionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote %s", e.Event)
	}
	return fmt.Sprintf("remote %s: %s", e.Event, e.Message)
}

func newRemoteError(ev Event) *RemoteSessionError {
	var p ErrorPayload
	_ = ev.Decode(&p)
	msg := p.Error
	if msg == "" {
		msg = p.Message
	}
	if msg == "" && ev.Payload == nil && len(ev.Raw) > 0 {
		msg = string(ev.Raw)
	}
	return &RemoteSessionError{Event: ev.ID, Message: msg}
}
