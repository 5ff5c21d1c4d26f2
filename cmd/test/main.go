// Command test drives a running bridge server end to end: it sends one
// spoken or typed turn over /ws and plays back the reply.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/audio"
	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/logging"
	"github.com/room4-2/realtimedialog/messages"
)

// inboundMessage mirrors messages.ServerMessage with the payload left raw.
type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func main() {
	// Flags
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	audioFile := flag.String("file", "", "Audio file to send (16kHz PCM or WAV)")
	text := flag.String("text", "", "Text query to send instead of audio")
	play := flag.Bool("play", true, "Play the reply through sox")
	timeout := flag.Duration("timeout", 30*time.Second, "How long to wait for the reply")
	flag.Parse()

	log, err := logging.NewConsole("info", os.Stderr)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *audioFile == "" && *text == "" {
		log.Fatal("one of -file or -text is required")
	}

	log.Info("connecting", zap.String("server", *serverURL))
	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	defer conn.Close()

	var player *audio.Player
	if *play {
		player, err = audio.NewPlayer(dialog.DefaultTTSSampleRate)
		if err != nil {
			log.Warn("playback disabled", zap.Error(err))
		} else {
			defer player.Close()
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	active := make(chan struct{})
	turnDone := make(chan struct{})
	done := make(chan struct{})

	// Read responses from server
	go func() {
		defer close(done)
		var activeSeen, turnSeen bool
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Info("connection ended", zap.Error(err))
				return
			}
			var msg inboundMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				log.Warn("unparseable message", zap.Error(err))
				continue
			}

			switch msg.Type {
			case messages.TypeAudio:
				var payload messages.AudioResponsePayload
				if sonic.Unmarshal(msg.Payload, &payload) != nil {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(payload.Data)
				if err != nil {
					continue
				}
				log.Debug("audio", zap.Int("bytes", len(pcm)), zap.String("mime", payload.MimeType))
				if player != nil {
					player.Write(pcm)
				}

			case messages.TypeText:
				var payload messages.TextResponsePayload
				if sonic.Unmarshal(msg.Payload, &payload) == nil {
					log.Info(payload.Text, zap.String("source", payload.Source), zap.Bool("interim", payload.Interim))
				}

			case messages.TypeStatus:
				var payload messages.StatusPayload
				if sonic.Unmarshal(msg.Payload, &payload) != nil {
					continue
				}
				log.Info("status", zap.String("status", payload.Status), zap.String("message", payload.Message))
				switch {
				case payload.Status == messages.StatusSessionActive && !activeSeen:
					activeSeen = true
					close(active)
				case payload.Status == messages.StatusTurnComplete && !turnSeen:
					turnSeen = true
					close(turnDone)
				}

			case messages.TypeError:
				var payload messages.ErrorPayload
				if sonic.Unmarshal(msg.Payload, &payload) == nil {
					log.Error("server error", zap.String("code", payload.Code), zap.String("message", payload.Message))
				}
			}
		}
	}()

	select {
	case <-active:
	case <-done:
		return
	case <-time.After(10 * time.Second):
		log.Fatal("session did not become active")
	}

	if *text != "" {
		if err := sendJSON(conn, messages.TypeClientText, messages.TextPayload{Content: *text}); err != nil {
			log.Fatal("send text", zap.Error(err))
		}
	} else {
		if err := sendAudio(conn, *audioFile, log); err != nil {
			log.Fatal("send audio", zap.Error(err))
		}
	}
	log.Info("turn sent, waiting for reply")

	select {
	case <-turnDone:
		_ = sendJSON(conn, messages.TypeClientControl, messages.ControlPayload{Action: messages.ActionFinish})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	case <-done:
	case <-interrupt:
		log.Info("interrupted, closing")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-time.After(*timeout):
		log.Warn("timed out waiting for reply")
	}
}

// sendAudio streams path as binary 20ms frames, then ends the turn.
func sendAudio(conn *websocket.Conn, path string, log *zap.Logger) error {
	pcm, err := audio.LoadPCM(path, 16000)
	if err != nil {
		return err
	}

	chunkSize := dialog.DefaultChunkSize
	for i := 0; i < len(pcm); i += chunkSize {
		end := min(i+chunkSize, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[i:end]); err != nil {
			return err
		}
		// Real-time pace
		time.Sleep(20 * time.Millisecond)
	}
	log.Info("audio sent", zap.Int("bytes", len(pcm)))

	return sendJSON(conn, messages.TypeClientControl, messages.ControlPayload{Action: messages.ActionEndTurn})
}

func sendJSON(conn *websocket.Conn, msgType string, payload any) error {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := sonic.Marshal(messages.ClientMessage{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
