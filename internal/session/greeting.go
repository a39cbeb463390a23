package session

import "time"

func (s *Session) handleTimer(id timerID) {
	delete(s.timerStop, id)

	switch id {
	case timerGreeting:
		s.maybeSpeakGreeting(false)
	case timerMaxGreetingDeferral:
		s.maybeSpeakGreeting(true)
	case timerDebounce:
		s.fireDebounce()
	case timerUnclearSpeechDebounce:
		s.fireUnclearSpeechDebounce()
	case timerCallCompletion:
		s.hangupOnCompletion()
	case timerCallAnswer:
		if !s.state.Snapshot().Status.IsTerminal() && s.state.Snapshot().Status != StatusInProgress {
			s.terminate(StatusNoAnswer, "no answer within call answer timeout")
		}
	case timerTTSGrace:
		if s.cycle != nil && s.cycle.ttsDone && s.cycle.chunks == 0 {
			s.retryOrFailEmptySpeak(s.cycle)
		}
	case timerTTSRetry:
		s.retryEmptySpeak()
	}
}

// maybeSpeakGreeting implements the deferral rule: reschedule while
// remote speech was heard recently, but never past the hard deadline,
// and skip entirely if the human has already produced a final
// transcript by the time the greeting would fire.
func (s *Session) maybeSpeakGreeting(forced bool) {
	if s.greeted {
		return
	}
	if s.humanSpokeBeforeGreeting {
		s.greeted = true
		return
	}

	idleMs := s.cfg.PreGreetingIdleMs
	if s.remoteSpeechDetectedAtMs > 0 {
		idleMs = int(s.nowMs() - s.remoteSpeechDetectedAtMs)
	}

	if !forced && s.remoteSpeechDetectedAtMs > 0 && idleMs < s.cfg.PreGreetingIdleMs {
		s.armTimer(timerGreeting, 100*time.Millisecond)
		return
	}

	if s.greetingText == "" {
		if !forced {
			// Greeting hasn't finished generating yet; give it one more
			// short slice before the hard deadline takes over.
			s.armTimer(timerGreeting, 100*time.Millisecond)
			return
		}
		// Deadline reached before the text: keep polling on the deadline
		// timer so the greeting goes out, undeferred, once the text lands.
		s.armTimer(timerMaxGreetingDeferral, 100*time.Millisecond)
		return
	}

	s.greeted = true
	s.cancelTimer(timerMaxGreetingDeferral)
	s.startSpeak(s.greetingText, false, nil)
}
