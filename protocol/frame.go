package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bytedance/sonic"
)

// jsonAPI renders compact UTF-8 JSON with stable map key order.
var jsonAPI = sonic.Config{SortMapKeys: true}.Froze()

// Message is the input to Encode.
type Message struct {
	Kind      Kind
	EventID   *EventID
	ConnectID *string
	SessionID *string
	// Payload is JSON-encoded for KindStructured unless it is already []byte;
	// a string becomes a JSON string. KindAudio accepts []byte, string or nil.
	Payload any
}

// NewEvent returns a structured message carrying id.
func NewEvent(id EventID, payload any) Message {
	return Message{Kind: KindStructured, EventID: &id, Payload: payload}
}

// NewAudio returns an audio message for sessionID.
func NewAudio(sessionID string, audio []byte) Message {
	return Message{Kind: KindAudio, SessionID: &sessionID, Payload: audio}
}

// WithConnectID returns a copy of m carrying a connect_id.
func (m Message) WithConnectID(id string) Message {
	m.ConnectID = &id
	return m
}

// WithSessionID returns a copy of m carrying a session_id.
func (m Message) WithSessionID(id string) Message {
	m.SessionID = &id
	return m
}

// Frame is one decoded wire message.
type Frame struct {
	Version       uint8
	HeaderWords   uint8
	Type          MessageType
	Flags         uint8
	Serialization Serialization
	Compression   Compression

	EventID   *EventID
	ConnectID *string
	SessionID *string

	// Payload aliases the buffer given to Decode.
	Payload []byte
	// JSON holds the decoded payload when serialization is JSON and the
	// payload parsed as an object.
	JSON map[string]any

	// Suspect is set when length fields disagreed with the bytes received.
	// The payload may be incomplete.
	Suspect bool
	desync  string
}

// HasFlag reports whether flag is set in the header flags.
func (f *Frame) HasFlag(flag uint8) bool {
	return f.Flags&flag != 0
}

// Event returns the event id and whether the frame carried one.
func (f *Frame) Event() (EventID, bool) {
	if f.EventID == nil {
		return 0, false
	}
	return *f.EventID, true
}

// Desync returns the recoverable diagnostic for a suspect frame, nil otherwise.
func (f *Frame) Desync() error {
	if !f.Suspect {
		return nil
	}
	return NewError(ErrCodeDesync, f.desync)
}

func (f *Frame) markDesync(format string, args ...any) {
	f.Suspect = true
	f.desync = fmt.Sprintf(format, args...)
}

// Encode renders m as a single wire frame.
// The only failure is a structured payload that cannot be JSON-encoded.
func Encode(m Message) ([]byte, error) {
	msgType := MsgFullClient
	ser := SerializationJSON
	flags := FlagNone

	var payload []byte
	switch m.Kind {
	case KindAudio:
		msgType = MsgAudioOnlyClient
		ser = SerializationRaw
		switch p := m.Payload.(type) {
		case nil:
		case []byte:
			payload = p
		case string:
			payload = []byte(p)
		default:
			return nil, NewError(ErrCodeBadPayload, fmt.Sprintf("audio payload must be bytes, got %T", m.Payload))
		}
	default:
		if m.EventID != nil {
			flags |= FlagHasEvent
		}
		var err error
		if payload, err = marshalPayload(m.Payload); err != nil {
			return nil, err
		}
	}

	size := HeaderLen + 4 + len(payload)
	if flags&FlagHasEvent != 0 {
		size += 4
	}
	if m.ConnectID != nil {
		size += 4 + len(*m.ConnectID)
	}
	if m.SessionID != nil {
		size += 4 + len(*m.SessionID)
	}

	buf := make([]byte, 0, size)
	buf = append(buf,
		Version<<4|HeaderWords,
		byte(msgType)<<4|flags,
		byte(ser)<<4|byte(CompressionNone),
		0x00,
	)
	if flags&FlagHasEvent != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(*m.EventID))
	}
	if m.ConnectID != nil {
		buf = appendString(buf, *m.ConnectID)
	}
	if m.SessionID != nil {
		buf = appendString(buf, *m.SessionID)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	buf = append(buf, payload...)
	return buf, nil
}

// EncodeAudio renders one audio chunk for sessionID.
func EncodeAudio(sessionID string, audio []byte) []byte {
	buf := make([]byte, 0, HeaderLen+8+len(sessionID)+len(audio))
	buf = append(buf,
		Version<<4|HeaderWords,
		byte(MsgAudioOnlyClient)<<4|FlagNone,
		byte(SerializationRaw)<<4|byte(CompressionNone),
		0x00,
	)
	buf = appendString(buf, sessionID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(audio)))
	return append(buf, audio...)
}

// MarshalJSON renders v the way Encode renders structured payloads.
func MarshalJSON(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

// UnmarshalJSON decodes data the way Decode decodes structured payloads.
func UnmarshalJSON(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

func marshalPayload(p any) ([]byte, error) {
	switch v := p.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	}
	b, err := jsonAPI.Marshal(p)
	if err != nil {
		return nil, &ProtocolError{Code: ErrCodeBadPayload, Msg: fmt.Sprintf("encode %T", p), Err: err}
	}
	return b, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// Decode parses one wire frame.
//
// It fails only when the header is incomplete, when compression is set, or
// on an internal fault. Length mismatches after the header are tolerated:
// the frame is returned with Suspect set and Desync describing the problem.
func Decode(data []byte) (f *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = NewError(ErrCodeInternal, fmt.Sprint(r))
		}
	}()

	if len(data) < HeaderLen {
		return nil, NewError(ErrCodeTooShort, fmt.Sprintf("got %d header bytes", len(data)))
	}

	f = &Frame{
		Version:       data[0] >> 4,
		HeaderWords:   data[0] & 0x0f,
		Type:          MessageType(data[1] >> 4),
		Flags:         data[1] & 0x0f,
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
	}

	headerLen := int(f.HeaderWords) * 4
	if headerLen < HeaderLen {
		headerLen = HeaderLen
	}
	if len(data) < headerLen {
		return nil, NewError(ErrCodeTooShort, fmt.Sprintf("header declares %d bytes, got %d", headerLen, len(data)))
	}
	if f.Compression != CompressionNone {
		return nil, NewError(ErrCodeUnsupportedCompression, fmt.Sprintf("compression %#x", uint8(f.Compression)))
	}

	pos := headerLen
	if f.HasFlag(FlagHasEvent) && len(data)-pos >= 4 {
		id := EventID(binary.BigEndian.Uint32(data[pos:]))
		f.EventID = &id
		pos += 4
	}

	rest := data[pos:]
	if !f.readExact(rest) {
		f.readTolerant(rest)
	}

	if f.Serialization == SerializationJSON && len(f.Payload) > 0 {
		var obj map[string]any
		if jsonAPI.Unmarshal(f.Payload, &obj) == nil {
			f.JSON = obj
		}
	}
	return f, nil
}

// readExact accepts the first id layout (one id, two ids, none) whose
// payload_size accounts for exactly the remaining bytes.
func (f *Frame) readExact(rest []byte) bool {
	for _, n := range [...]int{1, 2, 0} {
		ids, off, ok := readIDs(rest, n)
		if !ok || len(rest)-off < 4 {
			continue
		}
		size := binary.BigEndian.Uint32(rest[off:])
		if uint64(size) != uint64(len(rest)-off-4) {
			continue
		}
		f.assignIDs(ids)
		f.Payload = rest[off+4:]
		return true
	}
	return false
}

// readTolerant reads one id if its declared length fits, then clamps the
// payload to whatever is left. An id that does not fit is treated as absent
// and the cursor stays on its length prefix. This recovery is a local
// policy; peers never rely on it.
func (f *Frame) readTolerant(rest []byte) {
	pos := 0
	if len(rest) >= 4 {
		n := uint64(binary.BigEndian.Uint32(rest))
		if n <= uint64(len(rest)-4) {
			f.assignIDs([]string{string(rest[4 : 4+n])})
			pos = 4 + int(n)
		}
	}

	remain := rest[pos:]
	switch {
	case len(remain) == 0:
	case len(remain) < 4:
		f.markDesync("partial payload size field: %d bytes", len(remain))
	default:
		size := uint64(binary.BigEndian.Uint32(remain))
		avail := remain[4:]
		if size > uint64(len(avail)) {
			f.Payload = avail
			f.markDesync("payload size %d exceeds %d available bytes", size, len(avail))
			return
		}
		f.Payload = avail[:size]
		if extra := len(avail) - int(size); extra > 0 {
			f.markDesync("%d trailing bytes after payload", extra)
		}
	}
}

func (f *Frame) assignIDs(ids []string) {
	switch len(ids) {
	case 1:
		id := ids[0]
		if ev, ok := f.Event(); ok && ev.ConnectionScoped() {
			f.ConnectID = &id
		} else {
			f.SessionID = &id
		}
	case 2:
		connectID, sessionID := ids[0], ids[1]
		f.ConnectID = &connectID
		f.SessionID = &sessionID
	}
}

func readIDs(b []byte, n int) ([]string, int, bool) {
	ids := make([]string, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		if len(b)-off < 4 {
			return nil, 0, false
		}
		l := uint64(binary.BigEndian.Uint32(b[off:]))
		off += 4
		if l > uint64(len(b)-off) {
			return nil, 0, false
		}
		ids = append(ids, string(b[off:off+int(l)]))
		off += int(l)
	}
	return ids, off, true
}
