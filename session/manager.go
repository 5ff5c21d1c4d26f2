package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/config"
	"github.com/room4-2/realtimedialog/dialog"
	"github.com/room4-2/realtimedialog/logging"
)

// ErrMaxSessions is returned when the manager is at capacity.
var ErrMaxSessions = errors.New("maximum sessions reached")

// Dialer opens an unstarted upstream dialogue client.
type Dialer func(ctx context.Context, opts dialog.Options) (*dialog.Client, error)

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dial     Dialer
	start    dialog.StartSessionPayload
	log      *zap.Logger
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the upstream dialer.
func WithDialer(d Dialer) ManagerOption {
	return func(m *Manager) { m.dial = d }
}

// WithRedis uses an existing Redis client instead of connecting from config.
func WithRedis(client *redis.Client) ManagerOption {
	return func(m *Manager) { m.redis = client }
}

// NewManager creates a session manager. Redis is optional: when it cannot
// be reached the registry is skipped.
func NewManager(cfg *config.Config, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start, err := cfg.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to build session payload: %w", err)
	}

	sm := &Manager{
		sessions: make(map[string]*ClientSession),
		config:   cfg,
		start:    start,
		log:      logger,
	}
	sm.dial = func(ctx context.Context, opts dialog.Options) (*dialog.Client, error) {
		return dialog.Dial(ctx, cfg.Dialog, opts)
	}
	for _, opt := range opts {
		opt(sm)
	}

	if sm.redis == nil {
		sm.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sm.redis.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, session registry disabled", zap.String("addr", cfg.RedisURL), zap.Error(err))
		sm.redis.Close()
		sm.redis = nil
	}

	return sm, nil
}

// CreateSession dials the upstream service and registers a new session
// for clientConn. The session is not started. The dial happens outside
// the manager lock, so capacity is checked again before storing.
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*ClientSession, error) {
	sm.mu.RLock()
	full := len(sm.sessions) >= sm.config.MaxSessions
	sm.mu.RUnlock()
	if full {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	logger := sm.log.With(zap.String("bridge_session", logging.ShortID(sessionID)))

	upstream, err := sm.dial(ctx, dialog.Options{
		StartSession: sm.start,
		NoPlayback:   true,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect upstream: %w", err)
	}

	session := NewClientSession(sessionID, clientConn, upstream, sm.config.MaxBufferSize, sm.start.TTS.AudioConfig.SampleRate, sm.log)
	session.OnRound = func(rounds uint64) {
		sm.recordRound(sessionID, rounds)
	}

	sm.mu.Lock()
	if len(sm.sessions) >= sm.config.MaxSessions {
		sm.mu.Unlock()
		upstream.Close()
		return nil, ErrMaxSessions
	}
	sm.sessions[sessionID] = session
	sm.mu.Unlock()

	sm.register(ctx, sessionID, session)
	return session, nil
}

// register writes the session to the Redis registry.
func (sm *Manager) register(ctx context.Context, sessionID string, session *ClientSession) {
	if sm.redis == nil {
		return
	}
	sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
		"created_at":    session.CreatedAt.Format(time.RFC3339),
		"last_activity": session.LastActivity.Format(time.RFC3339),
		"status":        "active",
		"connect_id":    session.Upstream.ConnectID(),
		"dialog_id":     session.Upstream.SessionID(),
		"rounds":        0,
	})
	sm.redis.SAdd(ctx, "active_sessions", sessionID)
	sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
}

// recordRound stores the completed round count and refreshes the TTL.
func (sm *Manager) recordRound(sessionID string, rounds uint64) {
	if sm.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := "session:" + sessionID
	pipe := sm.redis.TxPipeline()
	pipe.HSet(ctx, key, "rounds", rounds, "last_activity", time.Now().Format(time.RFC3339))
	pipe.Expire(ctx, key, sm.config.SessionTimeout)
	if _, err := pipe.Exec(ctx); err != nil {
		sm.log.Warn("failed to record round", zap.String("bridge_session", logging.ShortID(sessionID)), zap.Error(err))
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if !exists {
		sm.mu.Unlock()
		return nil
	}
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	session.Close()
	return sm.unregister(ctx, sessionID)
}

func (sm *Manager) unregister(ctx context.Context, sessionID string) error {
	if sm.redis == nil {
		return nil
	}
	pipe := sm.redis.TxPipeline()
	pipe.Del(ctx, "session:"+sessionID)
	pipe.SRem(ctx, "active_sessions", sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions removes sessions that have been inactive
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	now := time.Now()

	sm.mu.Lock()
	var stale []string
	var closing []*ClientSession
	for id, session := range sm.sessions {
		if session.IdleFor(now) > sm.config.SessionTimeout {
			stale = append(stale, id)
			closing = append(closing, session)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for i, session := range closing {
		sm.log.Info("closing inactive session", zap.String("bridge_session", logging.ShortID(stale[i])))
		session.Close()
		if err := sm.unregister(ctx, stale[i]); err != nil {
			sm.log.Warn("failed to unregister session", zap.Error(err))
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*ClientSession)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	for id, session := range sessions {
		wg.Add(1)
		go func(id string, session *ClientSession) {
			defer wg.Done()
			session.Close()
			_ = sm.unregister(context.Background(), id)
		}(id, session)
	}
	wg.Wait()

	if sm.redis != nil {
		sm.redis.Close()
	}
}
