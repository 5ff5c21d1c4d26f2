package protocol

import "testing"

func TestEventClassification(t *testing.T) {
	tests := []struct {
		id        EventID
		name      string
		category  Category
		audio     bool
		connScope bool
		failure   bool
	}{
		{EventStartConnection, "StartConnection", CategoryConnection, false, true, false},
		{EventConnectionStarted, "ConnectionStarted", CategoryConnection, false, true, false},
		{EventConnectionFailed, "ConnectionFailed", CategoryConnection, false, true, true},
		{EventConnectionFinished, "ConnectionFinished", CategoryConnection, false, true, false},
		{EventStartSession, "StartSession", CategorySession, false, false, false},
		{EventSessionStarted, "SessionStarted", CategorySession, false, false, false},
		{EventSessionFailed, "SessionFailed", CategorySession, false, false, true},
		{EventUsageResponse, "UsageResponse", CategorySession, false, false, false},
		{EventDialogCommonError, "DialogCommonError", CategorySession, false, false, true},
		{EventTTSResponse, "TTSResponse", CategoryTTS, true, false, false},
		{EventTTSEnded, "TTSEnded", CategoryTTS, false, false, false},
		{EventASRResponse, "ASRResponse", CategoryASR, false, false, false},
		{EventTextQuery, "TextQuery", CategoryChat, false, false, false},
		{EventChatEnded, "ChatEnded", CategoryChat, false, false, false},
		{EventID(777), "Event(777)", CategoryUnrecognized, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.name {
				t.Errorf("String mismatch: got %q, want %q", got, tt.name)
			}
			if got := tt.id.Category(); got != tt.category {
				t.Errorf("Category mismatch: got %v, want %v", got, tt.category)
			}
			if got := tt.id.CarriesAudio(); got != tt.audio {
				t.Errorf("CarriesAudio mismatch: got %v, want %v", got, tt.audio)
			}
			if got := tt.id.ConnectionScoped(); got != tt.connScope {
				t.Errorf("ConnectionScoped mismatch: got %v, want %v", got, tt.connScope)
			}
			if got := tt.id.IsFailure(); got != tt.failure {
				t.Errorf("IsFailure mismatch: got %v, want %v", got, tt.failure)
			}
			if got := tt.id.Known(); got != (tt.category != CategoryUnrecognized) {
				t.Errorf("Known mismatch: got %v", got)
			}
		})
	}
}
