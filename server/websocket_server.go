package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/room4-2/realtimedialog/config"
	"github.com/room4-2/realtimedialog/messages"
	"github.com/room4-2/realtimedialog/session"
)

type Server struct {
	httpServer     *http.Server
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	config         *config.Config
	log            *zap.Logger
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func NewServerWebsocket(cfg *config.Config, sessionManager *session.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessionManager: sessionManager,
		config:         cfg,
		log:            logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler serving /ws and /health.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.log.Info("bridge server starting",
		zap.Int("port", s.config.Port),
		zap.String("endpoint", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port)),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	s.sessionManager.Shutdown()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	clientSession, err := s.sessionManager.CreateSession(r.Context(), conn)
	if err != nil {
		s.log.Error("failed to create session", zap.Error(err))
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrMaxSessions) {
			code = messages.ErrCodeRateLimited
		}
		_ = conn.WriteJSON(messages.NewErrorMessage("", code, err.Error()))
		conn.Close()
		return
	}

	s.log.Info("session created", zap.String("session_id", clientSession.ID))

	if err := clientSession.Start(); err != nil {
		s.log.Error("failed to start session", zap.String("session_id", clientSession.ID), zap.Error(err))
	}

	<-clientSession.CloseChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sessionManager.RemoveSession(ctx, clientSession.ID); err != nil {
		s.log.Warn("failed to unregister session", zap.String("session_id", clientSession.ID), zap.Error(err))
	}
	s.log.Info("session closed", zap.String("session_id", clientSession.ID))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body, err := sonic.Marshal(healthResponse{Status: "ok", Sessions: s.sessionManager.GetActiveSessionCount()})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
