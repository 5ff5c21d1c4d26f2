package dialog

import (
	"errors"

	"github.com/room4-2/realtimedialog/protocol"
)

var errNoPayload = errors.New("event has no payload")

// Event is one decoded inbound frame.
type Event struct {
	ID       protocol.EventID
	HasID    bool
	Category protocol.Category

	ConnectID string
	SessionID string

	// Payload is the decoded JSON object, nil for raw or unparsable payloads.
	Payload map[string]any
	// Raw is the payload as received.
	Raw []byte

	// Suspect marks a frame whose length fields did not match the data.
	Suspect bool
	// Err is set on failure events.
	Err error
}

func eventFromFrame(f *protocol.Frame) Event {
	ev := Event{
		Payload: f.JSON,
		Raw:     f.Payload,
		Suspect: f.Suspect,
	}
	if id, ok := f.Event(); ok {
		ev.ID = id
		ev.HasID = true
		ev.Category = id.Category()
	}
	if f.ConnectID != nil {
		ev.ConnectID = *f.ConnectID
	}
	if f.SessionID != nil {
		ev.SessionID = *f.SessionID
	}
	return ev
}

// Recognized reports whether the event id is in the event table.
func (e Event) Recognized() bool {
	return e.Category != protocol.CategoryUnrecognized
}

// Audio returns the synthesized audio of a TTSResponse, nil otherwise.
func (e Event) Audio() []byte {
	if e.HasID && e.ID.CarriesAudio() {
		return e.Raw
	}
	return nil
}

// Decode unmarshals the JSON payload into v.
func (e Event) Decode(v any) error {
	if len(e.Raw) == 0 {
		return errNoPayload
	}
	return protocol.UnmarshalJSON(e.Raw, v)
}

// Text returns the human-readable text an event carries: the final ASR
// transcript, a chat delta, or a TTS sentence. ok is false for events
// without text.
func (e Event) Text() (text string, ok bool) {
	switch e.ID {
	case protocol.EventASRResponse:
		var p ASRResponse
		if e.Decode(&p) != nil {
			return "", false
		}
		for _, r := range p.Results {
			if r.Text != "" && !r.IsInterim {
				text += r.Text
			}
		}
		return text, text != ""
	case protocol.EventChatResponse:
		var p ChatResponse
		if e.Decode(&p) != nil || p.Content == "" {
			return "", false
		}
		return p.Content, true
	case protocol.EventTTSSentenceStart:
		var p TTSSentenceStart
		if e.Decode(&p) != nil || p.Text == "" {
			return "", false
		}
		return p.Text, true
	}
	return "", false
}
