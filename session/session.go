package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/logging"
	"github.com/room4-2/realtimedialog/messages"
	"github.com/room4-2/realtimedialog/protocol"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
	finishTimeout   = 5 * time.Second
)

// ClientSession bridges one browser connection to one upstream dialogue
// session.
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	Upstream     *dialog.Client
	AudioBuffer  *AudioBuffer // Capture waiting for the upstream session
	CreatedAt    time.Time
	LastActivity time.Time

	// OnRound is called after each completed reply with the round count.
	OnRound func(rounds uint64)

	outputRate int
	log        *zap.Logger

	// Use channels for non-blocking writes
	writeChan chan any
	// sendMu keeps capture chunks in order across goroutines.
	sendMu sync.Mutex

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	pumpDone  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession wraps an accepted browser connection and an unstarted
// upstream client.
func NewClientSession(id string, clientConn *websocket.Conn, upstream *dialog.Client, maxBufferSize, outputRate int, logger *zap.Logger) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	if logger == nil {
		logger = zap.NewNop()
	}
	if outputRate <= 0 {
		outputRate = dialog.DefaultTTSSampleRate
	}

	return &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		Upstream:     upstream,
		AudioBuffer:  NewAudioBuffer(dialog.DefaultChunkSize, maxBufferSize),
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		outputRate:   outputRate,
		log:          logger.With(zap.String("bridge_session", logging.ShortID(id))),
		writeChan:    make(chan any, writeBufferSize),
		CloseChan:    make(chan struct{}),
		pumpDone:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() error {
	go cs.writePump()
	if err := cs.Upstream.Start(cs.ctx); err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
		cs.Close()
		return err
	}
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	go cs.forwardEvents()
	go cs.handleClientMessages()
	return nil
}

// forwardEvents relays upstream events to the browser until the upstream
// connection ends.
func (cs *ClientSession) forwardEvents() {
	defer cs.Close()

	for ev := range cs.Upstream.Events() {
		cs.touch()
		cs.handleEvent(ev)
	}

	if err := cs.Upstream.Err(); err != nil {
		cs.log.Warn("upstream session ended with error", zap.Error(err))
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
	}
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusDisconnected, ""))
}

func (cs *ClientSession) handleEvent(ev dialog.Event) {
	if ev.Err != nil {
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeUpstreamError, ev.Err.Error()))
		// A failed upstream accepts nothing more; ending it ends Events.
		cs.Upstream.Close()
		return
	}

	switch ev.ID {
	case protocol.EventSessionStarted:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusSessionActive, ""))
		cs.drainAudio(false)

	case protocol.EventTTSResponse:
		if audio := ev.Audio(); len(audio) > 0 {
			cs.queueMessage(messages.NewAudioMessage(cs.ID, base64.StdEncoding.EncodeToString(audio), cs.outputRate))
		}

	case protocol.EventASRResponse:
		var resp dialog.ASRResponse
		if err := ev.Decode(&resp); err != nil {
			return
		}
		for _, r := range resp.Results {
			if r.Text != "" {
				cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceASR, r.Text, r.IsInterim))
			}
		}

	case protocol.EventChatResponse:
		if text, ok := ev.Text(); ok {
			cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceChat, text, false))
		}

	case protocol.EventTTSSentenceStart:
		if text, ok := ev.Text(); ok {
			cs.queueMessage(messages.NewTextMessage(cs.ID, messages.SourceTTS, text, false))
		}

	case protocol.EventTTSEnded:
		rounds := cs.Upstream.Rounds()
		cs.queueMessage(messages.NewTurnCompleteMessage(cs.ID, int(rounds)))
		if cs.OnRound != nil {
			cs.OnRound(rounds)
		}
	}
}

// drainAudio sends buffered capture upstream once the session is active.
// flush also sends the trailing partial chunk.
func (cs *ClientSession) drainAudio(flush bool) {
	cs.sendMu.Lock()
	defer cs.sendMu.Unlock()

	if cs.Upstream.State() != dialog.StateSessionActive {
		return
	}

	var chunks [][]byte
	if flush {
		chunks = cs.AudioBuffer.Flush()
	} else {
		chunks = cs.AudioBuffer.Chunks()
	}
	for _, chunk := range chunks {
		if err := cs.Upstream.SendAudio(chunk); err != nil {
			cs.log.Warn("failed to send audio upstream", zap.Error(err))
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeUpstreamError, err.Error()))
			return
		}
	}
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	defer close(cs.pumpDone)
	defer func() {
		// Send close message before exiting
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			// Deliver what was queued before the close
			for {
				select {
				case msg := <-cs.writeChan:
					if err := cs.writeJSON(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		case msg := <-cs.writeChan:
			if err := cs.writeJSON(msg); err != nil {
				cs.log.Debug("browser write failed", zap.Error(err))
				return
			}
		}
	}
}

func (cs *ClientSession) writeJSON(msg any) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking)
func (cs *ClientSession) queueMessage(msg any) {
	cs.mu.RLock()
	if cs.closed {
		cs.mu.RUnlock()
		return
	}
	select {
	case cs.writeChan <- msg:
	default:
		cs.log.Warn("write queue full, dropping message")
	}
	cs.mu.RUnlock()
	cs.touch()
}

func (cs *ClientSession) touch() {
	cs.mu.Lock()
	cs.LastActivity = time.Now()
	cs.mu.Unlock()
}

// IdleFor returns how long the session has been inactive.
func (cs *ClientSession) IdleFor(now time.Time) time.Duration {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return now.Sub(cs.LastActivity)
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true
	cs.mu.Unlock()

	close(cs.CloseChan)
	cs.cancel()

	if cs.AudioBuffer != nil {
		cs.AudioBuffer.Clear()
	}

	if cs.Upstream != nil {
		cs.Upstream.Close()
	}

	// Let writePump flush and send the close frame
	select {
	case <-cs.pumpDone:
	case <-time.After(writeTimeout):
	}

	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		messageType, message, err := cs.ClientConn.ReadMessage()
		if err != nil {
			if !cs.IsClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.log.Warn("browser read error", zap.Error(err))
			}
			return
		}
		cs.touch()

		// Binary messages carry raw 16kHz PCM capture
		if messageType == websocket.BinaryMessage {
			if err := cs.AudioBuffer.Append(message); err != nil {
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
					fmt.Sprintf("Audio buffer full (max %d bytes)", cs.AudioBuffer.MaxSize())))
				continue
			}
			cs.drainAudio(false)
			continue
		}

		clientMsg, err := messages.ParseClientMessage(message)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
			continue
		}
		cs.processClientMessage(clientMsg)
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case messages.TypeClientText:
		var payload messages.TextPayload
		if err := msg.DecodePayload(&payload); err != nil || payload.Content == "" {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid text payload"))
			return
		}
		if err := cs.Upstream.SendText(payload.Content); err != nil {
			code := messages.ErrCodeUpstreamError
			if errors.Is(err, dialog.ErrSessionNotReady) {
				code = messages.ErrCodeSessionNotReady
			}
			cs.queueMessage(messages.NewErrorMessage(cs.ID, code, err.Error()))
		}

	case messages.TypeClientControl:
		var payload messages.ControlPayload
		if err := msg.DecodePayload(&payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	case messages.ActionEndTurn:
		cs.drainAudio(true)
	case messages.ActionFinish:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
			defer cancel()
			if err := cs.Upstream.Finish(ctx); err != nil {
				cs.log.Warn("finish did not complete cleanly", zap.Error(err))
			}
		}()
	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}
