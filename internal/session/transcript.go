package session

import (
	"strings"
	"time"

	"github.com/voxrelay/callengine/internal/conversation"
	"github.com/voxrelay/callengine/internal/echooracle"
	"github.com/voxrelay/callengine/internal/stt"
)

func (s *Session) handleSTTEvent(ev stt.Event) {
	switch ev.Kind {
	case stt.EventOpen:
		s.sttTimelineStartMs = s.nowMs()
	case stt.EventError:
		s.metrics.RecordError("stt_error", "stt")
		s.log.Error().Err(ev.Err).Msg("stt provider error")
	case stt.EventClose:
		// Nothing to do; the session's own lifecycle drives Close().
	case stt.EventTranscript:
		s.handleTranscript(ev)
	case stt.EventUnclearSpeech:
		s.handleUnclearSpeech()
	}
}

func (s *Session) handleTranscript(ev stt.Event) {
	if strings.TrimSpace(ev.Text) == "" {
		return
	}

	var transcriptEndMs *int64
	if len(ev.Words) > 0 {
		maxEnd := 0.0
		for _, w := range ev.Words {
			if w.End > maxEnd {
				maxEnd = w.End
			}
		}
		v := s.sttTimelineStartMs + int64(maxEnd*1000)
		transcriptEndMs = &v
	}

	decision := echooracle.Decide(s.isSpeaking, s.suppressSttUntilMs, transcriptEndMs, s.nowMs())
	if decision != echooracle.DecisionNone {
		s.log.Debug().Str("decision", decision.String()).Msg("dropping transcript event under echo suppression")
		return
	}

	s.sink.Publish(Lifecycle{Type: "transcript", CallID: s.state.CallID, Text: ev.Text, Role: "human", IsFinal: ev.IsFinal})

	if !ev.IsFinal {
		return
	}

	if !s.greeted {
		s.humanSpokeBeforeGreeting = true
	}

	s.cancelTimer(timerDebounce)
	if s.pendingTranscript == "" {
		s.pendingTranscript = ev.Text
	} else {
		s.pendingTranscript = s.pendingTranscript + " " + ev.Text
	}

	if s.isProcessingResponse {
		return
	}

	endMs := s.nowMs()
	if transcriptEndMs != nil {
		endMs = *transcriptEndMs
	}
	s.armTimer(timerDebounce, s.debounceWindow(s.pendingTranscript, endMs))
}

// debounceWindow picks the adaptive window per the condition table, then
// subtracts the silence already observed since the transcript ended,
// floored at DebounceMinClampMs.
func (s *Session) debounceWindow(text string, transcriptEndMs int64) time.Duration {
	var baseMs int
	switch {
	case conversation.IsShortAcknowledgement(text):
		baseMs = s.cfg.DebounceShortAckMs
	case endsWithTerminalPunctuation(text):
		baseMs = s.cfg.DebounceSentenceEndMs
	case s.lastFinalTranscriptAtMs > 0 && s.nowMs()-s.lastFinalTranscriptAtMs >= int64(s.cfg.DebounceLongSilenceThresholdMs):
		baseMs = s.cfg.DebounceLongSilenceMs
	default:
		baseMs = s.cfg.DebounceDefaultMs
	}
	s.lastFinalTranscriptAtMs = s.nowMs()

	elapsed := s.nowMs() - transcriptEndMs
	remaining := int64(baseMs) - elapsed
	if remaining < int64(s.cfg.DebounceMinClampMs) {
		remaining = int64(s.cfg.DebounceMinClampMs)
	}
	return time.Duration(remaining) * time.Millisecond
}

func endsWithTerminalPunctuation(text string) bool {
	t := strings.TrimSpace(text)
	return t != "" && strings.ContainsAny(t[len(t)-1:], ".!?")
}

func (s *Session) fireDebounce() {
	text := s.pendingTranscript
	s.pendingTranscript = ""
	if strings.TrimSpace(text) == "" {
		return
	}

	s.state.appendTranscript(TranscriptEntry{Role: "human", Text: text, Timestamp: time.Now(), IsFinal: true})
	s.sink.Publish(Lifecycle{Type: "transcript", CallID: s.state.CallID, Text: text, Role: "human", IsFinal: true})

	s.isProcessingResponse = true
	go s.generateAIResponse(text)
}

func (s *Session) handleUnclearSpeech() {
	if !s.greeted || s.isProcessingResponse {
		return
	}
	decision := echooracle.Decide(s.isSpeaking, s.suppressSttUntilMs, nil, s.nowMs())
	if decision != echooracle.DecisionNone {
		return
	}
	s.armTimer(timerUnclearSpeechDebounce, time.Duration(s.cfg.UnclearSpeechDebounceMs)*time.Millisecond)
}

func (s *Session) fireUnclearSpeechDebounce() {
	if s.isProcessingResponse || s.pendingTranscript != "" {
		return // clear speech arrived in the meantime
	}
	reply := s.conv.RespondToUnclearSpeech()
	s.startSpeak(reply, false, nil)
}
