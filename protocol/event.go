package protocol

import "strconv"

// EventID is the numeric tag carried in the optional event field.
type EventID uint32

// Client events
const (
	EventStartConnection  EventID = 1
	EventFinishConnection EventID = 2
	EventStartSession     EventID = 100
	EventFinishSession    EventID = 102
	EventTextQuery        EventID = 501
)

// Server events
const (
	EventConnectionStarted  EventID = 50
	EventConnectionFailed   EventID = 51
	EventConnectionFinished EventID = 52

	EventSessionStarted  EventID = 150
	EventSessionFinished EventID = 152
	EventSessionFailed   EventID = 153
	EventUsageResponse   EventID = 154

	EventTTSSentenceStart EventID = 350
	EventTTSSentenceEnd   EventID = 351
	EventTTSResponse      EventID = 352
	EventTTSEnded         EventID = 359

	EventASRInfo     EventID = 450
	EventASRResponse EventID = 451
	EventASREnded    EventID = 459

	EventChatResponse EventID = 550
	EventChatEnded    EventID = 559

	EventDialogCommonError EventID = 599
)

// Category groups events by the part of the dialogue they belong to.
type Category uint8

const (
	CategoryUnrecognized Category = iota
	CategoryConnection
	CategorySession
	CategoryASR
	CategoryTTS
	CategoryChat
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategorySession:
		return "session"
	case CategoryASR:
		return "asr"
	case CategoryTTS:
		return "tts"
	case CategoryChat:
		return "chat"
	default:
		return "unrecognized"
	}
}

type eventInfo struct {
	name     string
	category Category
}

var events = map[EventID]eventInfo{
	EventStartConnection:    {"StartConnection", CategoryConnection},
	EventFinishConnection:   {"FinishConnection", CategoryConnection},
	EventConnectionStarted:  {"ConnectionStarted", CategoryConnection},
	EventConnectionFailed:   {"ConnectionFailed", CategoryConnection},
	EventConnectionFinished: {"ConnectionFinished", CategoryConnection},

	EventStartSession:      {"StartSession", CategorySession},
	EventFinishSession:     {"FinishSession", CategorySession},
	EventSessionStarted:    {"SessionStarted", CategorySession},
	EventSessionFinished:   {"SessionFinished", CategorySession},
	EventSessionFailed:     {"SessionFailed", CategorySession},
	EventUsageResponse:     {"UsageResponse", CategorySession},
	EventDialogCommonError: {"DialogCommonError", CategorySession},

	EventTTSSentenceStart: {"TTSSentenceStart", CategoryTTS},
	EventTTSSentenceEnd:   {"TTSSentenceEnd", CategoryTTS},
	EventTTSResponse:      {"TTSResponse", CategoryTTS},
	EventTTSEnded:         {"TTSEnded", CategoryTTS},

	EventASRInfo:     {"ASRInfo", CategoryASR},
	EventASRResponse: {"ASRResponse", CategoryASR},
	EventASREnded:    {"ASREnded", CategoryASR},

	EventTextQuery:    {"TextQuery", CategoryChat},
	EventChatResponse: {"ChatResponse", CategoryChat},
	EventChatEnded:    {"ChatEnded", CategoryChat},
}

func (id EventID) String() string {
	if info, ok := events[id]; ok {
		return info.name
	}
	return "Event(" + strconv.FormatUint(uint64(id), 10) + ")"
}

// Known reports whether id is in the event table.
func (id EventID) Known() bool {
	_, ok := events[id]
	return ok
}

// Category returns the event's group, CategoryUnrecognized for unknown ids.
func (id EventID) Category() Category {
	return events[id].category
}

// CarriesAudio reports whether frames with this id carry raw audio.
func (id EventID) CarriesAudio() bool {
	return id == EventTTSResponse
}

// ConnectionScoped reports whether the event's id field is a connect_id
// rather than a session_id.
func (id EventID) ConnectionScoped() bool {
	return id.Category() == CategoryConnection
}

// IsFailure reports whether the event ends the dialogue with a remote error.
func (id EventID) IsFailure() bool {
	switch id {
	case EventConnectionFailed, EventSessionFailed, EventDialogCommonError:
		return true
	}
	return false
}
