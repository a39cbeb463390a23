// Package server implements the call server: it owns the callId→Session
// mapping, routes HTTP control and telephony webhooks, terminates the
// control and media WebSocket endpoints, reconciles session status with
// the telephony provider, and runs origination preflights.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/config"
	"github.com/voxrelay/callengine/internal/observability"
	"github.com/voxrelay/callengine/internal/session"
	"github.com/voxrelay/callengine/internal/stt"
	"github.com/voxrelay/callengine/internal/telephony"
)

// Server owns every live call session and the wire surfaces that reach
// them. Sessions are registered when an origination request is accepted
// and removed when they emit ended, when their media stream closes, or
// when reconciliation observes a terminal provider status.
type Server struct {
	cfg     *config.Config
	log     zerolog.Logger
	adapter *telephony.Adapter

	mu       sync.RWMutex
	sessions map[string]*session.Session

	hub *controlHub

	upgrader websocket.Upgrader

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// New constructs a call server. The telephony adapter is shared across
// sessions; everything else (STT, TTS, conversation manager, decoder)
// is built per call.
func New(cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		log: log.With().Str("component", "server").Logger(),
		adapter: telephony.NewAdapter(telephony.AdapterConfig{
			AccountSID: cfg.TelephonyAccountSID,
			AuthToken:  cfg.TelephonyAuthToken,
			FromNumber: cfg.TelephonyFromNumber,
			PublicURL:  cfg.PublicURL,
			VoicePath:  cfg.VoicePath,
			StatusPath: cfg.StatusPath,
			MediaPath:  cfg.MediaPath,
		}, log),
		sessions: make(map[string]*session.Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.hub = newControlHub(s.log)
	return s
}

// Run starts the HTTP server and the status reconciliation loop and
// blocks until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(s.readinessChecks()))
	if s.cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/{callId}", s.handleCallStatus)
	mux.HandleFunc("POST /call", s.handleInitiateCall)
	mux.HandleFunc("GET /recordings/{callSid}", s.handleRecordings)

	mux.HandleFunc(s.cfg.VoicePath, s.handleVoiceWebhook)
	mux.HandleFunc(s.cfg.StatusPath, s.handleStatusWebhook)

	mux.HandleFunc("GET /control", s.handleControlWS)
	mux.HandleFunc("GET "+s.cfg.MediaPath, s.handleMediaWS)

	go s.hub.run(s.ctx)
	go s.reconcileLoop()

	s.httpServer = &http.Server{
		Addr:        ":" + s.cfg.Port,
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	s.log.Info().Str("port", s.cfg.Port).Str("publicUrl", s.cfg.PublicURL).Msg("call server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown hangs up every active call and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	active := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active = append(active, sess)
	}
	s.mu.RUnlock()

	for _, sess := range active {
		sess.Hangup()
	}
	for _, sess := range active {
		select {
		case <-sess.Done():
		case <-ctx.Done():
		}
	}

	s.cancel()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) lookupSession(callID string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	return sess, ok
}

func (s *Server) lookupSessionBySID(callSID string) (*session.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.State().Snapshot().ExternalCallSID == callSID {
			return sess, true
		}
	}
	return nil, false
}

func (s *Server) registerSession(callID string, sess *session.Session) {
	s.mu.Lock()
	s.sessions[callID] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(callID string) {
	s.mu.Lock()
	delete(s.sessions, callID)
	s.mu.Unlock()
}

func (s *Server) activeCallCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sink adapts session lifecycle events onto the control-plane broadcast,
// and reaps the session once it reports ended.
func (s *Server) sink(callID string) session.Sink {
	return session.SinkFunc(func(ev session.Lifecycle) {
		s.hub.broadcast(serverMessageFromLifecycle(ev))
		if ev.Type == "call_ended" {
			s.removeSession(callID)
		}
	})
}

func (s *Server) readinessChecks() map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"stt": func(ctx context.Context) (bool, error) {
			if err := stt.CheckCredentials(ctx, s.cfg.DeepgramAPIKey); err != nil {
				return false, err
			}
			return true, nil
		},
		"telephony": func(ctx context.Context) (bool, error) {
			if err := s.adapter.VerifyAccount(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}

func (s *Server) publicEndpoint(path string) string {
	return fmt.Sprintf("%s%s", s.cfg.PublicURL, path)
}
