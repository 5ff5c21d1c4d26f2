package session

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/realtimedialog/config"
	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/messages"
	"github.com/room4-2/realtimedialog/protocol"
)

const testTimeout = 3 * time.Second

// fakeUpstream is an in-memory dialogue service speaking the binary
// protocol over dialog.Conn.
type fakeUpstream struct {
	in     chan []byte
	out    chan []byte
	audio  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeUpstream() *fakeUpstream {
	u := &fakeUpstream{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		audio:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go u.serve()
	return u
}

func (u *fakeUpstream) ReadMessage() (int, []byte, error) {
	select {
	case data := <-u.in:
		return websocket.BinaryMessage, data, nil
	case <-u.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (u *fakeUpstream) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.BinaryMessage {
		return nil
	}
	select {
	case u.out <- append([]byte(nil), data...):
		return nil
	case <-u.closed:
		return net.ErrClosed
	}
}

func (u *fakeUpstream) SetWriteDeadline(time.Time) error { return nil }

func (u *fakeUpstream) Close() error {
	u.once.Do(func() { close(u.closed) })
	return nil
}

func (u *fakeUpstream) reply(id protocol.EventID, scopeID string, payload any) {
	msg := protocol.NewEvent(id, payload)
	if id.ConnectionScoped() {
		msg = msg.WithConnectID(scopeID)
	} else {
		msg = msg.WithSessionID(scopeID)
	}
	data, _ := protocol.Encode(msg)
	data[1] = byte(protocol.MsgFullServer)<<4 | protocol.FlagHasEvent
	u.in <- data
}

func (u *fakeUpstream) replyAudio(sessionID string, pcm []byte) {
	data := []byte{0x11, byte(protocol.MsgAudioOnlyServer)<<4 | protocol.FlagHasEvent, 0x00, 0x00}
	data = binary.BigEndian.AppendUint32(data, uint32(protocol.EventTTSResponse))
	data = binary.BigEndian.AppendUint32(data, uint32(len(sessionID)))
	data = append(data, sessionID...)
	data = binary.BigEndian.AppendUint32(data, uint32(len(pcm)))
	u.in <- append(data, pcm...)
}

func (u *fakeUpstream) serve() {
	for {
		var data []byte
		select {
		case data = <-u.out:
		case <-u.closed:
			return
		}
		f, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		if f.Type == protocol.MsgAudioOnlyClient {
			u.audio <- f.Payload
			continue
		}
		ev, _ := f.Event()
		switch ev {
		case protocol.EventStartConnection:
			u.reply(protocol.EventConnectionStarted, *f.ConnectID, nil)
		case protocol.EventStartSession:
			u.reply(protocol.EventSessionStarted, *f.SessionID, map[string]any{"dialog_id": "d1"})
		case protocol.EventTextQuery:
			sid := *f.SessionID
			u.reply(protocol.EventASRResponse, sid, map[string]any{"results": []any{map[string]any{"text": "你好", "is_interim": false}}})
			u.reply(protocol.EventChatResponse, sid, map[string]any{"content": "你好呀"})
			u.replyAudio(sid, []byte{1, 2, 3, 4})
			u.reply(protocol.EventTTSEnded, sid, nil)
		case protocol.EventFinishSession:
			u.reply(protocol.EventSessionFinished, *f.SessionID, nil)
		case protocol.EventFinishConnection:
			u.reply(protocol.EventConnectionFinished, "", nil)
		}
	}
}

type bridgeEnv struct {
	manager  *Manager
	redis    *miniredis.Miniredis
	upstream chan *fakeUpstream
	url      string
}

func newBridgeEnv(t *testing.T, cfg *config.Config) *bridgeEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	env := &bridgeEnv{redis: mr, upstream: make(chan *fakeUpstream, 4)}

	dialer := func(ctx context.Context, opts dialog.Options) (*dialog.Client, error) {
		u := newFakeUpstream()
		env.upstream <- u
		return dialog.New(u, opts), nil
	}
	m, err := NewManager(cfg, nil, WithDialer(dialer), WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	env.manager = m

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cs, err := m.CreateSession(r.Context(), conn)
		if err != nil {
			conn.Close()
			return
		}
		if err := cs.Start(); err != nil {
			return
		}
		<-cs.CloseChan
		_ = m.RemoveSession(context.Background(), cs.ID)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(m.Shutdown)
	env.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return env
}

func testConfig() *config.Config {
	return &config.Config{
		MaxSessions:    4,
		SessionTimeout: time.Minute,
		MaxBufferSize:  64 * 1024,
		AllowedOrigins: []string{"*"},
	}
}

type browserMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

func dialBrowser(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("browser dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitFor reads browser messages until match returns true.
func waitFor(t *testing.T, conn *websocket.Conn, what string, match func(browserMessage) bool) browserMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		var msg browserMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid browser message %q: %v", data, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func isStatus(status string) func(browserMessage) bool {
	return func(m browserMessage) bool {
		return m.Type == messages.TypeStatus && m.Payload["status"] == status
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := sonic.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("browser write failed: %v", err)
	}
}

func TestBridgeTextRound(t *testing.T) {
	env := newBridgeEnv(t, testConfig())
	browser := dialBrowser(t, env.url)

	connected := waitFor(t, browser, "connected", isStatus(messages.StatusConnected))
	waitFor(t, browser, "session_active", isStatus(messages.StatusSessionActive))

	sendJSON(t, browser, map[string]any{"type": "text", "payload": map[string]any{"content": "你好"}})

	asr := waitFor(t, browser, "asr text", func(m browserMessage) bool { return m.Type == messages.TypeText })
	if asr.Payload["source"] != messages.SourceASR || asr.Payload["text"] != "你好" {
		t.Errorf("asr message mismatch: %+v", asr.Payload)
	}
	chat := waitFor(t, browser, "chat text", func(m browserMessage) bool { return m.Type == messages.TypeText })
	if chat.Payload["source"] != messages.SourceChat || chat.Payload["text"] != "你好呀" {
		t.Errorf("chat message mismatch: %+v", chat.Payload)
	}
	audio := waitFor(t, browser, "audio", func(m browserMessage) bool { return m.Type == messages.TypeAudio })
	if audio.Payload["data"] != base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) {
		t.Errorf("audio data mismatch: %v", audio.Payload["data"])
	}
	if audio.Payload["mimeType"] != "audio/pcm;rate=24000" {
		t.Errorf("mime type mismatch: %v", audio.Payload["mimeType"])
	}
	done := waitFor(t, browser, "turn_complete", isStatus(messages.StatusTurnComplete))
	if done.Payload["round"] != float64(1) {
		t.Errorf("round mismatch: %v", done.Payload["round"])
	}

	key := "session:" + connected.SessionID
	deadline := time.Now().Add(testTimeout)
	for env.redis.HGet(key, "rounds") != "1" {
		if time.Now().After(deadline) {
			t.Fatalf("rounds not recorded, got %q", env.redis.HGet(key, "rounds"))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ok, _ := env.redis.SIsMember("active_sessions", connected.SessionID); !ok {
		t.Error("session missing from active_sessions")
	}
}

func TestBridgeAudioChunking(t *testing.T) {
	env := newBridgeEnv(t, testConfig())
	browser := dialBrowser(t, env.url)
	upstream := <-env.upstream

	waitFor(t, browser, "session_active", isStatus(messages.StatusSessionActive))

	// 1.5 chunks: one full chunk goes out now, the rest on end_turn
	capture := make([]byte, dialog.DefaultChunkSize*3/2)
	for i := range capture {
		capture[i] = byte(i)
	}
	if err := browser.WriteMessage(websocket.BinaryMessage, capture); err != nil {
		t.Fatalf("write capture failed: %v", err)
	}

	first := receiveAudio(t, upstream)
	if len(first) != dialog.DefaultChunkSize || first[1] != 1 {
		t.Errorf("first chunk mismatch: len=%d", len(first))
	}
	select {
	case chunk := <-upstream.audio:
		t.Fatalf("partial chunk sent before end_turn: %d bytes", len(chunk))
	case <-time.After(50 * time.Millisecond):
	}

	sendJSON(t, browser, map[string]any{"type": "control", "payload": map[string]any{"action": "end_turn"}})
	last := receiveAudio(t, upstream)
	if len(last) != dialog.DefaultChunkSize {
		t.Fatalf("last chunk size = %d", len(last))
	}
	if last[0] != capture[dialog.DefaultChunkSize] || last[len(last)-1] != 0 {
		t.Errorf("last chunk not continued and padded: first=%d last=%d", last[0], last[len(last)-1])
	}
}

func receiveAudio(t *testing.T, u *fakeUpstream) []byte {
	t.Helper()
	select {
	case chunk := <-u.audio:
		return chunk
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for upstream audio")
		return nil
	}
}

func TestBridgeControlMessages(t *testing.T) {
	env := newBridgeEnv(t, testConfig())
	browser := dialBrowser(t, env.url)
	waitFor(t, browser, "session_active", isStatus(messages.StatusSessionActive))

	sendJSON(t, browser, map[string]any{"type": "control", "payload": map[string]any{"action": "ping"}})
	waitFor(t, browser, "pong", isStatus(messages.StatusPong))

	tests := []struct {
		name string
		send any
		code string
	}{
		{name: "unknown type", send: map[string]any{"type": "video"}, code: messages.ErrCodeInvalidMessage},
		{name: "unknown action", send: map[string]any{"type": "control", "payload": map[string]any{"action": "dance"}}, code: messages.ErrCodeInvalidMessage},
		{name: "empty text", send: map[string]any{"type": "text", "payload": map[string]any{"content": ""}}, code: messages.ErrCodeInvalidMessage},
	}
	for _, tt := range tests {
		sendJSON(t, browser, tt.send)
		msg := waitFor(t, browser, tt.name, func(m browserMessage) bool { return m.Type == messages.TypeError })
		if msg.Payload["code"] != tt.code {
			t.Errorf("%s: code = %v, want %s", tt.name, msg.Payload["code"], tt.code)
		}
	}

	if err := browser.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	msg := waitFor(t, browser, "invalid json", func(m browserMessage) bool { return m.Type == messages.TypeError })
	if msg.Payload["code"] != messages.ErrCodeInvalidMessage {
		t.Errorf("code = %v", msg.Payload["code"])
	}
}

func TestBridgeFinish(t *testing.T) {
	env := newBridgeEnv(t, testConfig())
	browser := dialBrowser(t, env.url)
	waitFor(t, browser, "session_active", isStatus(messages.StatusSessionActive))

	sendJSON(t, browser, map[string]any{"type": "control", "payload": map[string]any{"action": "finish"}})
	waitFor(t, browser, "disconnected", isStatus(messages.StatusDisconnected))

	deadline := time.Now().Add(testTimeout)
	for env.manager.GetActiveSessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not removed, count=%d", env.manager.GetActiveSessionCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if members, _ := env.redis.Members("active_sessions"); len(members) != 0 {
		t.Errorf("registry not cleaned: %v", members)
	}
}

func TestBridgeUpstreamFailure(t *testing.T) {
	env := newBridgeEnv(t, testConfig())
	browser := dialBrowser(t, env.url)
	upstream := <-env.upstream
	connected := waitFor(t, browser, "session_active", isStatus(messages.StatusSessionActive))

	upstream.reply(protocol.EventSessionFailed, "x", map[string]any{"error": "quota exceeded"})

	msg := waitFor(t, browser, "upstream error", func(m browserMessage) bool { return m.Type == messages.TypeError })
	if msg.Payload["code"] != messages.ErrCodeUpstreamError || !strings.Contains(msg.Payload["message"].(string), "quota exceeded") {
		t.Errorf("error mismatch: %+v", msg.Payload)
	}
	if msg.SessionID != connected.SessionID {
		t.Errorf("session id mismatch: %q", msg.SessionID)
	}

	// The upstream stays connected; the bridge must still end the session.
	waitFor(t, browser, "disconnected", isStatus(messages.StatusDisconnected))
	browser.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		if _, _, err := browser.ReadMessage(); err != nil {
			break
		}
	}
	deadline := time.Now().Add(testTimeout)
	for env.manager.GetActiveSessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed session still registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerLimitsAndCleanup(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	env := newBridgeEnv(t, cfg)

	first := dialBrowser(t, env.url)
	waitFor(t, first, "session_active", isStatus(messages.StatusSessionActive))

	// A second browser is refused while the first is open
	second := dialBrowser(t, env.url)
	second.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("expected second connection to be closed")
	}
	if got := env.manager.GetActiveSessionCount(); got != 1 {
		t.Fatalf("active sessions = %d, want 1", got)
	}

	// Nothing is idle yet
	env.manager.CleanupInactiveSessions(context.Background())
	if got := env.manager.GetActiveSessionCount(); got != 1 {
		t.Fatalf("active session cleaned too early")
	}

	env.manager.config.SessionTimeout = -time.Second
	env.manager.CleanupInactiveSessions(context.Background())
	if got := env.manager.GetActiveSessionCount(); got != 0 {
		t.Errorf("inactive session not cleaned, count=%d", got)
	}
	if members, _ := env.redis.Members("active_sessions"); len(members) != 0 {
		t.Errorf("registry not cleaned: %v", members)
	}
}

func TestNewManagerWithoutRedis(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "127.0.0.1:1"
	m, err := NewManager(cfg, nil, WithDialer(func(context.Context, dialog.Options) (*dialog.Client, error) {
		return nil, net.ErrClosed
	}))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Shutdown()
	if m.redis != nil {
		t.Error("expected registry to be disabled")
	}
	m.recordRound("missing", 1)
}

func TestCreateSessionDialsOutsideLock(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "127.0.0.1:1"

	dialing := make(chan struct{})
	release := make(chan struct{})
	m, err := NewManager(cfg, nil, WithDialer(func(context.Context, dialog.Options) (*dialog.Client, error) {
		close(dialing)
		<-release
		return nil, net.ErrClosed
	}))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Shutdown()

	created := make(chan error, 1)
	go func() {
		_, err := m.CreateSession(context.Background(), nil)
		created <- err
	}()
	<-dialing

	counted := make(chan int, 1)
	go func() { counted <- m.GetActiveSessionCount() }()
	select {
	case n := <-counted:
		if n != 0 {
			t.Errorf("active sessions = %d during dial, want 0", n)
		}
	case <-time.After(testTimeout):
		t.Fatal("session count blocked by an in-flight dial")
	}

	close(release)
	if err := <-created; !errors.Is(err, net.ErrClosed) {
		t.Errorf("CreateSession error mismatch: got %v", err)
	}
}
