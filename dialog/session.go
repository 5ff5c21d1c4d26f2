package dialog

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is the dialogue carried by one connection. Its state and round
// count are written only by the owning Client's receive loop; everything
// else reads them.
type Session struct {
	connectID string
	sessionID string

	state  atomic.Int32
	rounds atomic.Uint64

	mu      sync.Mutex
	changed chan struct{}
}

func newSession(connectID, sessionID string) *Session {
	if connectID == "" {
		connectID = uuid.New().String()
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &Session{
		connectID: connectID,
		sessionID: sessionID,
		changed:   make(chan struct{}),
	}
}

// ConnectID returns the connection correlation id.
func (s *Session) ConnectID() string { return s.connectID }

// ID returns the session correlation id.
func (s *Session) ID() string { return s.sessionID }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Rounds returns the number of completed synthesis turns.
func (s *Session) Rounds() uint64 { return s.rounds.Load() }

func (s *Session) set(st State) {
	s.state.Store(int32(st))
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Session) addRound() uint64 {
	return s.rounds.Add(1)
}

func (s *Session) watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Wait blocks until the state is one of states or ctx ends, and returns the
// state it observed.
func (s *Session) Wait(ctx context.Context, states ...State) (State, error) {
	for {
		ch := s.watch()
		st := s.State()
		if slices.Contains(states, st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}
