package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/room4-2/realtimedialog/dialog"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxBufferSize   int // Maximum buffered capture bytes per browser session
	LogLevel        string

	// Upstream dialogue service
	Dialog      dialog.DialConfig
	Model       string
	Speaker     string
	ProfilePath string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
		LogLevel:        "info",
		Dialog: dialog.DialConfig{
			URL:        dialog.DefaultURL,
			ResourceID: dialog.DefaultResourceID,
		},
		Model:   dialog.DefaultModel,
		Speaker: dialog.DefaultSpeaker,
	}

	if err := config.loadDialog(); err != nil {
		return nil, err
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_BUFFER_SIZE (in bytes)
	if bufferSize := os.Getenv("MAX_BUFFER_SIZE"); bufferSize != "" {
		b, err := strconv.Atoi(bufferSize)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: %w", err)
		}
		if b < dialog.DefaultChunkSize {
			return nil, fmt.Errorf("invalid MAX_BUFFER_SIZE: must be at least %d", dialog.DefaultChunkSize)
		}
		config.MaxBufferSize = b
	}

	// Optional: LOG_LEVEL
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	return config, nil
}

// LoadDialogConfig loads only the upstream settings. Used by the CLI.
func LoadDialogConfig() (*Config, error) {
	_ = godotenv.Load()
	config := &Config{
		Dialog: dialog.DialConfig{
			URL:        dialog.DefaultURL,
			ResourceID: dialog.DefaultResourceID,
		},
		Model:    dialog.DefaultModel,
		Speaker:  dialog.DefaultSpeaker,
		LogLevel: os.Getenv("LOG_LEVEL"),
	}
	if err := config.loadDialog(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadDialog() error {
	// Required: DIALOG_APP_ID, DIALOG_ACCESS_KEY
	c.Dialog.AppID = os.Getenv("DIALOG_APP_ID")
	if c.Dialog.AppID == "" {
		return fmt.Errorf("DIALOG_APP_ID environment variable is required")
	}
	c.Dialog.AccessKey = os.Getenv("DIALOG_ACCESS_KEY")
	if c.Dialog.AccessKey == "" {
		return fmt.Errorf("DIALOG_ACCESS_KEY environment variable is required")
	}

	if url := os.Getenv("DIALOG_WS_URL"); url != "" {
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			return fmt.Errorf("invalid DIALOG_WS_URL: must start with ws:// or wss://")
		}
		c.Dialog.URL = url
	}
	if resourceID := os.Getenv("DIALOG_RESOURCE_ID"); resourceID != "" {
		c.Dialog.ResourceID = resourceID
	}
	c.Dialog.AppKey = os.Getenv("DIALOG_APP_KEY")

	if model := os.Getenv("DIALOG_MODEL"); model != "" {
		c.Model = model
	}
	if speaker := os.Getenv("DIALOG_SPEAKER"); speaker != "" {
		c.Speaker = speaker
	}
	c.ProfilePath = os.Getenv("DIALOG_PROFILE")
	return nil
}

// StartSession builds the StartSession payload from the profile file when
// one is configured, otherwise from the model and speaker settings.
func (c *Config) StartSession() (dialog.StartSessionPayload, error) {
	if c.ProfilePath == "" {
		return dialog.DefaultStartSession(c.Model, c.Speaker), nil
	}
	profile, err := LoadProfile(c.ProfilePath)
	if err != nil {
		return dialog.StartSessionPayload{}, err
	}
	return profile.Payload(c.Model, c.Speaker), nil
}
