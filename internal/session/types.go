// Package session implements the state machine that owns one call.
// A single event-loop goroutine per Session consumes a channel of tagged
// events produced by the STT client, the TTS client, the decoder, the
// media WebSocket reader and timers. Provider callbacks only ever send an
// event; the one CallState write from outside the loop is the external
// call SID, which SetExternalCallSID records once origination returns.
package session

import (
	"sync"
	"time"
)

// Status is one of CallState's lifecycle states. The last five are
// terminal; status is monotone and never leaves a terminal state.
type Status string

const (
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// IsTerminal reports whether s is one of the five terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// StatusFromProvider maps the telephony provider's CallStatus strings
// (webhook payloads and the status polling API) onto the session's
// lifecycle states. Unknown strings report ok=false and are ignored by
// callers.
func StatusFromProvider(providerStatus string) (Status, bool) {
	switch providerStatus {
	case "queued", "initiated":
		return StatusInitiating, true
	case "ringing":
		return StatusRinging, true
	case "answered", "in-progress":
		return StatusInProgress, true
	case "completed":
		return StatusCompleted, true
	case "busy":
		return StatusBusy, true
	case "failed":
		return StatusFailed, true
	case "no-answer":
		return StatusNoAnswer, true
	case "canceled":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// TranscriptEntry is one line of the call transcript.
type TranscriptEntry struct {
	Role      string // "human" or "assistant"
	Text      string
	Timestamp time.Time
	IsFinal   bool
}

// CallState is the per-session record, mutated by the session's own event
// loop (and, for ExternalCallSID, by SetExternalCallSID). Snapshot
// returns a safe copy for readers outside the loop
// (the status HTTP handler, the control-plane broadcaster).
type CallState struct {
	CallID          string
	ExternalCallSID string
	StreamSID       string

	Goal    string
	Context string

	Status Status

	Transcript []TranscriptEntry

	StartedAt time.Time
	EndedAt   *time.Time
	Summary   string

	mu sync.RWMutex
}

// Snapshot returns a copy of the state safe to read concurrently with the
// owning session's event loop.
func (s *CallState) Snapshot() CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := CallState{
		CallID:          s.CallID,
		ExternalCallSID: s.ExternalCallSID,
		StreamSID:       s.StreamSID,
		Goal:            s.Goal,
		Context:         s.Context,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		Summary:         s.Summary,
	}
	cp.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	return cp
}

// set* helpers are called from the session's own event loop, except
// setExternalCallSID, which SetExternalCallSID calls from the call
// server's goroutine; the mutex guards every write against concurrent
// Snapshot() reads.
func (s *CallState) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status.IsTerminal() {
		return
	}
	s.Status = status
	if status.IsTerminal() {
		now := time.Now()
		s.EndedAt = &now
	}
}

func (s *CallState) setExternalCallSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExternalCallSID = sid
}

// setStreamSID honors the set-exactly-once invariant: the first start
// frame wins and a reconnecting stream cannot rebind the session.
func (s *CallState) setStreamSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StreamSID == "" {
		s.StreamSID = sid
	}
}

func (s *CallState) setSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Summary = summary
}

func (s *CallState) appendTranscript(entry TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Transcript = append(s.Transcript, entry)
}
