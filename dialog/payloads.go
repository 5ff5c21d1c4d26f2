package dialog

// Defaults used by the reference dialogue service.
const (
	DefaultModel         = "O"
	DefaultSpeaker       = "zh_female_vv_jupiter_bigtts"
	DefaultAudioFormat   = "pcm_s16le"
	DefaultTTSSampleRate = 24000

	// DefaultChunkSize is 20ms of 16kHz mono s16le capture.
	DefaultChunkSize = 640
)

// StartSessionPayload configures the dialogue and the synthesized voice.
type StartSessionPayload struct {
	Dialog DialogConfig `json:"dialog"`
	TTS    TTSConfig    `json:"tts"`
}

type DialogConfig struct {
	BotName       string      `json:"bot_name,omitempty"`
	SystemRole    string      `json:"system_role,omitempty"`
	SpeakingStyle string      `json:"speaking_style,omitempty"`
	Extra         DialogExtra `json:"extra"`
}

type DialogExtra struct {
	Model string `json:"model"`
}

type TTSConfig struct {
	Speaker     string      `json:"speaker"`
	AudioConfig AudioConfig `json:"audio_config"`
}

type AudioConfig struct {
	Channel    int    `json:"channel"`
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultStartSession returns the payload for model and speaker with 24kHz
// mono PCM output. Empty arguments fall back to the defaults.
func DefaultStartSession(model, speaker string) StartSessionPayload {
	if model == "" {
		model = DefaultModel
	}
	if speaker == "" {
		speaker = DefaultSpeaker
	}
	return StartSessionPayload{
		Dialog: DialogConfig{Extra: DialogExtra{Model: model}},
		TTS: TTSConfig{
			Speaker: speaker,
			AudioConfig: AudioConfig{
				Channel:    1,
				Format:     DefaultAudioFormat,
				SampleRate: DefaultTTSSampleRate,
			},
		},
	}
}

// TextQuery is the payload of a TextQuery event.
type TextQuery struct {
	Content string `json:"content"`
}

// Inbound payloads

type SessionStarted struct {
	DialogID string `json:"dialog_id"`
}

type ASRInfo struct {
	QuestionID string `json:"question_id"`
}

type ASRResult struct {
	Text      string `json:"text"`
	IsInterim bool   `json:"is_interim"`
}

type ASRResponse struct {
	Results []ASRResult `json:"results"`
}

type ChatResponse struct {
	Content string `json:"content"`
}

type TTSSentenceStart struct {
	Text string `json:"text"`
}

type UsageResponse struct {
	Usage map[string]any `json:"usage"`
}

// ErrorPayload is carried by failure events. Servers use either field.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
