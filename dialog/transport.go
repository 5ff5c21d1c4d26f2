package dialog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultURL        = "wss://openspeech.bytedance.com/api/v3/realtime/dialogue"
	DefaultResourceID = "volc.speech.dialog"

	defaultDialTimeout = 15 * time.Second
)

// Conn is the message channel a Client runs on. Each binary message is one
// frame. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// DialConfig locates and authenticates against the dialogue endpoint.
type DialConfig struct {
	URL        string
	AppID      string
	AccessKey  string
	ResourceID string
	AppKey     string

	// Header holds extra handshake headers.
	Header http.Header
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Headers returns the handshake headers for connectID.
func (c DialConfig) Headers(connectID string) http.Header {
	h := http.Header{}
	for k, v := range c.Header {
		h[k] = append([]string(nil), v...)
	}
	resourceID := c.ResourceID
	if resourceID == "" {
		resourceID = DefaultResourceID
	}
	h.Set("X-Api-App-ID", c.AppID)
	h.Set("X-Api-Access-Key", c.AccessKey)
	h.Set("X-Api-Resource-Id", resourceID)
	if c.AppKey != "" {
		h.Set("X-Api-App-Key", c.AppKey)
	}
	h.Set("X-Api-Connect-Id", connectID)
	return h
}

// Dial opens the websocket and returns an unstarted Client. A context
// without a deadline gets a 15s handshake timeout.
func Dial(ctx context.Context, cfg DialConfig, opts Options) (*Client, error) {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}
	if opts.ConnectID == "" {
		opts.ConnectID = uuid.New().String()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, url, cfg.Headers(opts.ConnectID))
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, &TransportError{Op: "dial", URL: url, Err: err}
	}
	return New(conn, opts), nil
}
