package server

import (
	"context"
	"time"

	"github.com/voxrelay/callengine/internal/session"
)

// reconcileLoop polls provider status for every non-terminal session
// that has an external call SID, advancing the state machine when the
// provider moved to a terminal state without delivering the webhook
// (tunnel flaps, provider retry exhaustion). Each poll is independent so
// one slow provider response never delays the others.
func (s *Server) reconcileLoop() {
	interval := time.Duration(s.cfg.StatusReconcileIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reconcileOnce()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) reconcileOnce() {
	s.mu.RLock()
	candidates := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snap := sess.State().Snapshot()
		if snap.ExternalCallSID != "" && !snap.Status.IsTerminal() {
			candidates = append(candidates, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range candidates {
		go s.reconcileSession(sess)
	}
}

func (s *Server) reconcileSession(sess *session.Session) {
	snap := sess.State().Snapshot()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	providerStatus, err := s.adapter.CallStatus(ctx, snap.ExternalCallSID)
	if err != nil {
		s.log.Warn().Err(err).Str("callId", snap.CallID).Msg("status reconcile poll failed")
		return
	}

	status, known := session.StatusFromProvider(providerStatus)
	if !known || !status.IsTerminal() {
		return
	}

	s.log.Info().
		Str("callId", snap.CallID).
		Str("status", string(status)).
		Msg("reconciled terminal status from provider")
	sess.MarkTerminalFromProvider(status)
}
