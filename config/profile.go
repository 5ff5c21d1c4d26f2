package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/room4-2/realtimedialog/dialog"
)

// Profile describes the persona and voice of a dialogue session.
//
//	bot_name: 小助手
//	system_role: 你是一个乐于助人的助手
//	speaking_style: 语速适中
//	model: ${DIALOG_MODEL:-O}
//	tts:
//	  speaker: zh_female_vv_jupiter_bigtts
//	  sample_rate: 24000
type Profile struct {
	BotName       string     `yaml:"bot_name"`
	SystemRole    string     `yaml:"system_role"`
	SpeakingStyle string     `yaml:"speaking_style"`
	Model         string     `yaml:"model"`
	TTS           ProfileTTS `yaml:"tts"`
}

type ProfileTTS struct {
	Speaker    string `yaml:"speaker"`
	Channel    int    `yaml:"channel"`
	Format     string `yaml:"format"`
	SampleRate int    `yaml:"sample_rate"`
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} with environment values.
// Unset variables without a default expand to the empty string.
func ExpandEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok && value != "" {
			return value
		}
		return groups[2]
	})
}

// LoadProfile reads a YAML profile and expands environment references.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("profile not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &p); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", path, err)
	}
	return &p, nil
}

// Validate rejects audio settings the client cannot play back.
func (p *Profile) Validate() error {
	if p.TTS.Channel < 0 || p.TTS.Channel > 2 {
		return fmt.Errorf("tts.channel must be 1 or 2, got %d", p.TTS.Channel)
	}
	if p.TTS.SampleRate < 0 {
		return fmt.Errorf("tts.sample_rate must be positive, got %d", p.TTS.SampleRate)
	}
	return nil
}

// Payload renders the StartSession payload. Fields the profile leaves empty
// take model, speaker and the default audio format.
func (p *Profile) Payload(model, speaker string) dialog.StartSessionPayload {
	if p.Model != "" {
		model = p.Model
	}
	if p.TTS.Speaker != "" {
		speaker = p.TTS.Speaker
	}
	payload := dialog.DefaultStartSession(model, speaker)
	payload.Dialog.BotName = p.BotName
	payload.Dialog.SystemRole = p.SystemRole
	payload.Dialog.SpeakingStyle = p.SpeakingStyle
	if p.TTS.Channel != 0 {
		payload.TTS.AudioConfig.Channel = p.TTS.Channel
	}
	if p.TTS.Format != "" {
		payload.TTS.AudioConfig.Format = p.TTS.Format
	}
	if p.TTS.SampleRate != 0 {
		payload.TTS.AudioConfig.SampleRate = p.TTS.SampleRate
	}
	return payload
}
