package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxrelay/callengine/internal/session"
)

const providerSignatureHeader = "X-Twilio-Signature"

type callRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Goal        string `json:"goal"`
	Context     string `json:"context,omitempty"`
}

type transcriptEntryView struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"isFinal"`
}

type callStateView struct {
	CallID     string                `json:"callId"`
	CallSID    string                `json:"callSid,omitempty"`
	StreamSID  string                `json:"streamSid,omitempty"`
	Goal       string                `json:"goal"`
	Context    string                `json:"context,omitempty"`
	Status     string                `json:"status"`
	Transcript []transcriptEntryView `json:"transcript"`
	StartedAt  time.Time             `json:"startedAt"`
	EndedAt    *time.Time            `json:"endedAt,omitempty"`
	Summary    string                `json:"summary,omitempty"`
}

func viewFromSnapshot(snap session.CallState) callStateView {
	view := callStateView{
		CallID:     snap.CallID,
		CallSID:    snap.ExternalCallSID,
		StreamSID:  snap.StreamSID,
		Goal:       snap.Goal,
		Context:    snap.Context,
		Status:     string(snap.Status),
		Transcript: make([]transcriptEntryView, 0, len(snap.Transcript)),
		StartedAt:  snap.StartedAt,
		EndedAt:    snap.EndedAt,
		Summary:    snap.Summary,
	}
	for _, e := range snap.Transcript {
		view.Transcript = append(view.Transcript, transcriptEntryView{
			Role: e.Role, Text: e.Text, Timestamp: e.Timestamp, IsFinal: e.IsFinal,
		})
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"activeCalls":    s.activeCallCount(),
		"controlClients": s.hub.clientCount(),
		"publicUrl":      s.cfg.PublicURL,
	})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("callId")
	sess, ok := s.lookupSession(callID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown callId")
		return
	}
	writeJSON(w, http.StatusOK, viewFromSnapshot(sess.State().Snapshot()))
}

func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBodyBytes))

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	callID, err := s.initiateCall(r.Context(), req.PhoneNumber, req.Goal, req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"callId": callID, "status": "initiating"})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	callSID := r.PathValue("callSid")

	recordings, err := s.adapter.FetchRecordings(r.Context(), callSID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if r.URL.Query().Get("download") == "true" {
		if len(recordings) == 0 {
			writeError(w, http.StatusNotFound, "no recordings for call")
			return
		}
		body, err := s.adapter.DownloadRecording(r.Context(), recordings[0].SID)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, recordings[0].SID))
		_, _ = io.Copy(w, body)
		return
	}

	type recordingView struct {
		SID      string  `json:"sid"`
		Duration float64 `json:"duration"`
		URL      string  `json:"url"`
	}
	views := make([]recordingView, 0, len(recordings))
	for _, rec := range recordings {
		views = append(views, recordingView{SID: rec.SID, Duration: rec.Duration.Seconds(), URL: rec.URL})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"recordings": views})
}

// handleVoiceWebhook serves the control markup the provider fetches when
// the callee answers. The preflight round-trip GETs it with a synthetic
// callId and only cares that the tunnel answers.
func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifyWebhookSignature(w, r) {
		return
	}

	callID := r.URL.Query().Get("callId")
	w.Header().Set("Content-Type", "application/xml")

	if _, ok := s.lookupSession(callID); !ok {
		_, _ = w.Write([]byte(s.adapter.ErrorMarkup("We're sorry, this call cannot be completed right now. Goodbye.")))
		return
	}
	_, _ = w.Write([]byte(s.adapter.VoiceMarkup(callID)))
}

// handleStatusWebhook consumes the provider's call status callbacks and
// advances the session state machine.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		// Preflight tunnel probe.
		w.WriteHeader(http.StatusOK)
		return
	}

	if !s.verifyWebhookSignature(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	callSID := r.PostForm.Get("CallSid")
	providerStatus := r.PostForm.Get("CallStatus")
	callID := r.URL.Query().Get("callId")

	sess, ok := s.lookupSession(callID)
	if !ok && callSID != "" {
		sess, ok = s.lookupSessionBySID(callSID)
	}
	if !ok {
		// Status for a call we no longer (or never) owned; acknowledge so
		// the provider stops retrying.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status, known := session.StatusFromProvider(providerStatus)
	if !known {
		s.log.Warn().Str("callStatus", providerStatus).Msg("unknown provider call status")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case status == session.StatusRinging:
		sess.MarkRinging()
	case status.IsTerminal():
		sess.MarkTerminalFromProvider(status)
	}

	w.WriteHeader(http.StatusNoContent)
}

// verifyWebhookSignature enforces the provider's HMAC signature whenever
// the header is present. A mismatch is a hard 403; a missing header is
// tolerated (local tunnels and the preflight probe carry none).
func (s *Server) verifyWebhookSignature(w http.ResponseWriter, r *http.Request) bool {
	sig := r.Header.Get(providerSignatureHeader)
	if sig == "" {
		return true
	}

	var params url.Values
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "malformed webhook payload")
			return false
		}
		params = r.PostForm
	}

	webhookURL := s.cfg.PublicURL + r.URL.RequestURI()
	if err := s.adapter.ValidateWebhookSignature(sig, webhookURL, params); err != nil {
		s.log.Warn().Err(err).Str("path", r.URL.Path).Msg("webhook signature rejected")
		writeError(w, http.StatusForbidden, "invalid webhook signature")
		return false
	}
	return true
}
