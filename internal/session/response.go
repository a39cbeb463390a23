package session

import (
	"errors"
	"strings"
	"time"

	"github.com/voxrelay/callengine/internal/conversation"
	"github.com/voxrelay/callengine/internal/tts"
)

// generateAIResponse drives one full agent turn: classify the human's
// text, stream the reply sentence-by-sentence through TTS, fire any DTMF
// the reply asked for after its carrier sentence, and record exactly one
// assistant transcript turn for the whole response.
//
// Runs on its own goroutine so the event loop stays free to shuttle TTS
// and decoder events while we block on speakAndWait. Every state
// mutation still goes through the loop: speech via speakRequest, DTMF
// and the transcript append via their own events, isProcessingResponse
// cleared by the evResponseDone the deferred send below always delivers.
func (s *Session) generateAIResponse(humanText string) {
	complete := false
	defer func() {
		s.send(loopEvent{kind: evResponseDone, responseComplete: complete})
	}()

	tc := &conversation.TurnContext{
		ShortAcknowledgement: conversation.IsShortAcknowledgement(humanText),
	}

	s.metrics.RecordLLMStart()
	chunks, err := s.conv.RespondStreaming(s.ctx, humanText, tc)
	if err != nil {
		s.metrics.RecordLLMEnd(false)
		s.log.Error().Err(err).Msg("response generation failed")
		s.publishError("response generation failed")
		if err := s.speakAndWait(conversation.FallbackReply, false); err != nil {
			s.log.Warn().Err(err).Msg("fallback utterance failed")
		}
		return
	}
	s.metrics.RecordLLMEnd(true)

	var spoken []string
	fallbackUsed := false
	for chunk := range chunks {
		text := strings.TrimSpace(conversation.StripCallComplete(chunk.Text))
		if text != "" {
			if err := s.speakAndWait(text, true); err != nil {
				var quota *tts.ErrQuotaExceeded
				if errors.As(err, &quota) || errors.Is(err, errCallEnded) || errors.Is(err, errSuperseded) {
					return
				}
				s.log.Warn().Err(err).Str("chunk", text).Msg("speak failed for response chunk")
				if fallbackUsed {
					return
				}
				fallbackUsed = true
				if err := s.speakAndWait(conversation.FallbackReply, true); err != nil {
					return
				}
				spoken = append(spoken, conversation.FallbackReply)
			} else {
				spoken = append(spoken, text)
			}
		}
		for _, digits := range chunk.DTMF {
			s.send(loopEvent{kind: evDTMF, dtmfDigits: digits})
		}
	}

	if full := strings.TrimSpace(strings.Join(spoken, " ")); full != "" {
		s.send(loopEvent{kind: evAssistantTurn, assistantText: full})
	}

	complete = s.conv.IsComplete()
}

// handleResponseDone runs on the loop once a response goroutine exits,
// successfully or not. A transcript that accumulated while the agent was
// formulating is picked up here; a completed conversation arms the
// hangup delay instead.
func (s *Session) handleResponseDone(conversationComplete bool) {
	s.isProcessingResponse = false

	if conversationComplete {
		s.log.Info().Msg("conversation complete, arming hangup delay")
		s.armTimer(timerCallCompletion, time.Duration(s.cfg.CallCompletionDelayMs)*time.Millisecond)
		return
	}

	if s.pendingTranscript != "" {
		s.armTimer(timerDebounce, s.debounceWindow(s.pendingTranscript, s.nowMs()))
	}
}

func (s *Session) hangupOnCompletion() {
	s.hangupCall(StatusCompleted, "agent signalled call complete")
}
