package protocol

// Header layout
const (
	Version uint8 = 0b0001
	// HeaderWords is the header size in 4-byte words.
	HeaderWords uint8 = 0b0001

	// HeaderLen is the byte length of the fixed header.
	HeaderLen = 4
)

// MessageType is the high nibble of header byte 1.
type MessageType uint8

const (
	MsgFullClient      MessageType = 0b0001
	MsgAudioOnlyClient MessageType = 0b0010
	MsgFullServer      MessageType = 0b1001
	MsgAudioOnlyServer MessageType = 0b1011
	MsgError           MessageType = 0b1111
)

func (t MessageType) String() string {
	switch t {
	case MsgFullClient:
		return "full-client"
	case MsgAudioOnlyClient:
		return "audio-only-client"
	case MsgFullServer:
		return "full-server"
	case MsgAudioOnlyServer:
		return "audio-only-server"
	case MsgError:
		return "error"
	default:
		return "unknown"
	}
}

// Flags (low nibble of header byte 1)
const (
	FlagNone     uint8 = 0b0000
	FlagHasEvent uint8 = 0b0100
)

// Serialization is the high nibble of header byte 2.
type Serialization uint8

const (
	SerializationRaw  Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

// Compression is the low nibble of header byte 2. Only CompressionNone is
// accepted.
type Compression uint8

const CompressionNone Compression = 0b0000

// Kind selects how Encode lays out a frame.
type Kind uint8

const (
	// KindStructured frames carry a JSON payload and may carry an event id.
	KindStructured Kind = iota
	// KindAudio frames carry raw bytes and never carry an event id.
	KindAudio
)
