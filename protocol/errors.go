package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of a codec failure.
type ErrorCode uint16

const (
	ErrCodeUnknown ErrorCode = 0

	// Decode refuses the frame.
	ErrCodeTooShort               ErrorCode = 1001
	ErrCodeUnsupportedCompression ErrorCode = 1002
	ErrCodeInternal               ErrorCode = 1003

	// Encode refuses the payload.
	ErrCodeBadPayload ErrorCode = 2001

	// Frame was decoded but its length fields disagree with the bytes received.
	ErrCodeDesync ErrorCode = 3001
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeTooShort:
		return "too short"
	case ErrCodeUnsupportedCompression:
		return "unsupported compression"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeBadPayload:
		return "bad payload"
	case ErrCodeDesync:
		return "desync"
	default:
		return "unknown"
	}
}

// ProtocolError is the only error type returned by this package.
type ProtocolError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error (%s)", e.Code)
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewError builds a ProtocolError.
func NewError(code ErrorCode, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Msg: msg}
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError.
func IsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether err is a ProtocolError with the given code.
func HasCode(err error, code ErrorCode) bool {
	pe, ok := IsProtocolError(err)
	return ok && pe.Code == code
}
