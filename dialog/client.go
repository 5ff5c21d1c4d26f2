package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/protocol"
)

const (
	defaultWriteTimeout = 10 * time.Second
	closeGrace          = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	// ConnectID and SessionID default to fresh UUIDs.
	ConnectID string
	SessionID string

	// StartSession is the StartSession payload. Defaults to
	// DefaultStartSession("", "").
	StartSession any

	// ManualSession stops the client from sending StartSession as soon as
	// the connection is confirmed; call Client.StartSession instead.
	ManualSession bool

	// NoPlayback keeps TTS audio off the Playback channel. Audio still
	// arrives on Events.
	NoPlayback bool

	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Client drives one connection and the dialogue session on it.
//
// A single receive loop decodes inbound frames, applies state transitions
// and publishes events; it is the only writer of session state. Sends
// from other goroutines are checked against the current state and
// serialized on the socket.
type Client struct {
	conn    Conn
	session *Session
	opts    Options
	log     *zap.Logger

	inbound  chan inbound
	cmds     chan command
	events   *queue[Event]
	playback *queue[[]byte]
	// listening is set by the first Playback call.
	listening atomic.Bool

	writeMu sync.Mutex

	lifeMu  sync.Mutex
	started bool
	closed  atomic.Bool
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

type inbound struct {
	data []byte
	err  error
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStartSession
	cmdFinish
	cmdClose
)

type command struct {
	kind  commandKind
	reply chan commandResult
}

type commandResult struct {
	err error
	// wait is set by cmdFinish when FinishSession is outstanding.
	wait bool
}

// New wraps an open connection. Nothing is sent until Start.
func New(conn Conn, opts Options) *Client {
	if opts.StartSession == nil {
		opts.StartSession = DefaultStartSession("", "")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := newSession(opts.ConnectID, opts.SessionID)
	return &Client{
		conn:    conn,
		session: session,
		opts:    opts,
		log: logger.With(
			zap.String("connect_id", session.ConnectID()),
			zap.String("session_id", session.ID()),
		),
		inbound:  make(chan inbound),
		cmds:     make(chan command),
		events:   newQueue[Event](),
		playback: newQueue[[]byte](),
		done:     make(chan struct{}),
	}
}

// Session returns the dialogue session.
func (c *Client) Session() *Session { return c.session }

// ConnectID returns the connection correlation id.
func (c *Client) ConnectID() string { return c.session.ConnectID() }

// SessionID returns the session correlation id.
func (c *Client) SessionID() string { return c.session.ID() }

// State returns the current state.
func (c *Client) State() State { return c.session.State() }

// Rounds returns the number of TTSEnded events seen while active.
func (c *Client) Rounds() uint64 { return c.session.Rounds() }

// Events returns every decoded inbound frame in arrival order, including
// unrecognized ones. The channel closes after the socket closes.
func (c *Client) Events() <-chan Event { return c.events.C() }

// Playback returns TTS audio buffers in arrival order. Audio is queued
// only from the first call on, so call it before Start to receive every
// buffer. The channel closes after the socket closes; Close discards
// buffers not yet read.
func (c *Client) Playback() <-chan []byte {
	c.listening.Store(true)
	return c.playback.C()
}

// Done is closed once the receive loop has exited.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that moved the client to StateFailed, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// WaitState blocks until the client reaches one of states.
func (c *Client) WaitState(ctx context.Context, states ...State) (State, error) {
	return c.session.Wait(ctx, states...)
}

// Ready blocks until the session is active. It fails if the client
// reaches a terminal state first.
func (c *Client) Ready(ctx context.Context) error {
	st, err := c.session.Wait(ctx, StateSessionActive, StateClosed, StateFailed)
	if err != nil {
		return err
	}
	switch st {
	case StateSessionActive:
		return nil
	case StateFailed:
		if err := c.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("session ended before becoming active: %w", ErrClosed)
}

// Start sends StartConnection and begins receiving.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.closed.Load() {
		c.lifeMu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.lifeMu.Unlock()
		return fmt.Errorf("start in state %s: %w", c.State(), ErrInvalidState)
	}
	c.started = true
	c.lifeMu.Unlock()

	go c.readLoop()
	go c.run()

	res, err := c.do(ctx, cmdStart)
	if err != nil {
		return err
	}
	return res.err
}

// StartSession sends StartSession. Only needed with Options.ManualSession.
func (c *Client) StartSession(ctx context.Context) error {
	res, err := c.do(ctx, cmdStartSession)
	if err != nil {
		return err
	}
	return res.err
}

// SendAudio sends one capture chunk. It returns ErrSessionNotReady outside
// StateSessionActive without touching the socket.
func (c *Client) SendAudio(chunk []byte) error {
	if st := c.State(); st != StateSessionActive {
		return fmt.Errorf("send audio in state %s: %w", st, ErrSessionNotReady)
	}
	return c.write("send audio", protocol.EncodeAudio(c.session.ID(), chunk))
}

// SendText sends a TextQuery. It returns ErrSessionNotReady outside
// StateSessionActive without touching the socket.
func (c *Client) SendText(content string) error {
	if st := c.State(); st != StateSessionActive {
		return fmt.Errorf("send text in state %s: %w", st, ErrSessionNotReady)
	}
	data, err := protocol.Encode(protocol.NewEvent(protocol.EventTextQuery, TextQuery{Content: content}).
		WithSessionID(c.session.ID()))
	if err != nil {
		return err
	}
	return c.write("send text", data)
}

// Finish ends the session: FinishSession is sent if the session is
// active, then Finish waits for the server to confirm or for ctx to end
// and closes the connection either way. Calling it again is a no-op.
func (c *Client) Finish(ctx context.Context) error {
	res, err := c.do(ctx, cmdFinish)
	if err == nil && res.wait {
		_, err = c.session.Wait(ctx, StateClosed, StateFailed)
		if err != nil {
			c.log.Warn("finish not confirmed before deadline", zap.Error(err))
		}
	}
	c.shutdown()
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidState) {
		return nil
	}
	return err
}

// Close tears the connection down: best-effort FinishSession and
// FinishConnection, a close frame, then the socket. Transport errors are
// swallowed. It waits for the receive loop to exit, drops playback audio
// nobody has read, and is idempotent.
func (c *Client) Close() error {
	c.shutdown()
	c.playback.Discard()
	return nil
}

func (c *Client) shutdown() {
	c.lifeMu.Lock()
	if c.closed.Swap(true) {
		c.lifeMu.Unlock()
		<-c.done
		return
	}
	started := c.started
	c.lifeMu.Unlock()

	if !started {
		_ = c.conn.Close()
		c.session.set(StateClosed)
		c.events.Close()
		c.playback.Close()
		close(c.done)
		return
	}

	cmd := command{kind: cmdClose, reply: make(chan commandResult, 1)}
	select {
	case c.cmds <- cmd:
		<-cmd.reply
	case <-c.done:
		// Peer already closed the socket.
		_ = c.conn.Close()
	}
	<-c.done
}

// do hands a command to the receive loop and waits for its result.
func (c *Client) do(ctx context.Context, kind commandKind) (commandResult, error) {
	c.lifeMu.Lock()
	started := c.started
	c.lifeMu.Unlock()
	if !started {
		if c.closed.Load() {
			return commandResult{}, ErrClosed
		}
		return commandResult{}, fmt.Errorf("client not started: %w", ErrInvalidState)
	}

	cmd := command{kind: kind, reply: make(chan commandResult, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return commandResult{}, ErrClosed
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
	return <-cmd.reply, nil
}

func (c *Client) readLoop() {
	defer close(c.inbound)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.inbound <- inbound{err: err}
			return
		}
		if messageType != websocket.BinaryMessage {
			c.log.Debug("ignoring non-binary message", zap.Int("type", messageType))
			continue
		}
		c.inbound <- inbound{data: data}
	}
}

func (c *Client) run() {
	defer close(c.done)
	defer c.playback.Close()
	defer c.events.Close()

	for {
		select {
		case in, ok := <-c.inbound:
			if !ok {
				if !c.State().Terminal() {
					c.transition(StateClosed)
				}
				return
			}
			if in.err != nil {
				c.handleReadError(in.err)
				continue
			}
			c.handleFrame(in.data)
		case cmd := <-c.cmds:
			cmd.reply <- c.handleCommand(cmd.kind)
		}
	}
}

func (c *Client) handleCommand(kind commandKind) commandResult {
	st := c.State()
	switch kind {
	case cmdStart:
		if st != StateIdle {
			return commandResult{err: fmt.Errorf("start in state %s: %w", st, ErrInvalidState)}
		}
		c.transition(StateConnecting)
		msg := protocol.NewEvent(protocol.EventStartConnection, struct{}{}).WithConnectID(c.session.ConnectID())
		if err := c.send("start connection", msg); err != nil {
			return commandResult{err: err}
		}
		return commandResult{}

	case cmdStartSession:
		if st != StateConnected {
			return commandResult{err: fmt.Errorf("start session in state %s: %w", st, ErrInvalidState)}
		}
		return commandResult{err: c.startSession()}

	case cmdFinish:
		switch st {
		case StateSessionActive:
			c.transition(StateSessionFinishing)
			if err := c.sendFinishSession(); err != nil {
				c.log.Warn("finish session not sent", zap.Error(err))
				return commandResult{}
			}
			return commandResult{wait: true}
		case StateSessionFinishing:
			return commandResult{wait: true}
		}
		return commandResult{}

	case cmdClose:
		if st == StateSessionActive {
			c.transition(StateSessionFinishing)
			if err := c.sendFinishSession(); err != nil {
				c.log.Debug("finish session not sent", zap.Error(err))
			}
		}
		if c.State().connectionOpen() {
			msg := protocol.NewEvent(protocol.EventFinishConnection, struct{}{}).WithConnectID(c.session.ConnectID())
			if data, err := protocol.Encode(msg); err == nil {
				if err := c.write("finish connection", data); err != nil {
					c.log.Debug("finish connection not sent", zap.Error(err))
				}
			}
		}
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeGrace))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
		return commandResult{}
	}
	return commandResult{err: fmt.Errorf("unknown command %d", kind)}
}

func (c *Client) startSession() error {
	c.transition(StateSessionStarting)
	msg := protocol.NewEvent(protocol.EventStartSession, c.opts.StartSession).WithSessionID(c.session.ID())
	return c.send("start session", msg)
}

func (c *Client) sendFinishSession() error {
	msg := protocol.NewEvent(protocol.EventFinishSession, struct{}{}).WithSessionID(c.session.ID())
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.write("finish session", data)
}

// send encodes and writes a control frame. A transport failure fails the
// client.
func (c *Client) send(op string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.write(op, data); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

func (c *Client) write(op string, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return &TransportError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) handleReadError(err error) {
	st := c.State()
	if st.Terminal() {
		return
	}
	if c.closed.Load() || st == StateSessionFinishing ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.transition(StateClosed)
		return
	}
	c.fail(&TransportError{Op: "read", Err: err})
}

func (c *Client) handleFrame(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping undecodable frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}
	if f.Suspect {
		c.log.Warn("protocol desync", zap.Error(f.Desync()))
	}

	ev := eventFromFrame(f)
	if !ev.HasID {
		c.events.Push(ev)
		return
	}

	st := c.State()
	switch ev.ID {
	case protocol.EventConnectionStarted:
		if st == StateConnecting {
			c.transition(StateConnected)
			if !c.opts.ManualSession {
				if err := c.startSession(); err != nil {
					c.log.Error("start session failed", zap.Error(err))
				}
			}
		}

	case protocol.EventConnectionFailed, protocol.EventSessionFailed, protocol.EventDialogCommonError:
		remote := newRemoteError(ev)
		ev.Err = remote
		c.fail(remote)

	case protocol.EventSessionStarted:
		if st == StateSessionStarting {
			c.transition(StateSessionActive)
		}

	case protocol.EventSessionFinished:
		if st == StateSessionActive || st == StateSessionFinishing {
			c.transition(StateClosed)
		}

	case protocol.EventTTSResponse:
		if !c.opts.NoPlayback && c.listening.Load() {
			c.playback.Push(ev.Raw)
		}

	case protocol.EventTTSEnded:
		if st == StateSessionActive {
			n := c.session.addRound()
			c.log.Debug("round complete", zap.Uint64("rounds", n))
		}

	default:
		if !ev.Recognized() {
			c.log.Debug("unrecognized event", zap.Uint32("event", uint32(ev.ID)))
		}
	}

	c.events.Push(ev)
}

func (c *Client) transition(to State) {
	from := c.State()
	if from == to || from.Terminal() {
		return
	}
	c.session.set(to)
	c.log.Debug("state change", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (c *Client) fail(err error) {
	if c.State().Terminal() {
		return
	}
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.log.Error("dialog failed", zap.Error(err))
	c.transition(StateFailed)
}
