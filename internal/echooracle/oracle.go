// Package echooracle holds the single truthful decision point for whether
// an STT event is real caller speech or self-echo of the agent's own
// audio. It is a pure function, deliberately free of session state, so it
// can be exhaustively unit tested.
package echooracle

// Decision is the oracle's verdict for one transcript event.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionSpeaking
	DecisionSuppressed
	DecisionOverlap
)

func (d Decision) String() string {
	switch d {
	case DecisionSpeaking:
		return "speaking"
	case DecisionSuppressed:
		return "suppressed"
	case DecisionOverlap:
		return "overlap"
	default:
		return "none"
	}
}

// Decide applies precedence overlap > speaking > suppressed > none.
// transcriptEndMs is nil when the transcript carried no word timings.
// All times are monotonic milliseconds.
func Decide(isSpeaking bool, suppressUntilMs int64, transcriptEndMs *int64, nowMs int64) Decision {
	if transcriptEndMs != nil && *transcriptEndMs <= suppressUntilMs {
		return DecisionOverlap
	}
	if isSpeaking {
		return DecisionSpeaking
	}
	if nowMs < suppressUntilMs {
		return DecisionSuppressed
	}
	return DecisionNone
}

const (
	// mulawBytesPerMs is the byte rate of 8kHz mono µ-law audio (8 bytes/ms).
	mulawBytesPerMs = 8
)

// ExtendForDecoderClose computes the new suppressUntilMs after a decoder
// closes: the tail covers the remaining already-sent-but-not-yet-played
// buffered audio, estimated as bytesSent/8 - streamingElapsedMs, plus a
// small constant. max() is applied so an active window never shrinks.
func ExtendForDecoderClose(currentSuppressUntilMs, nowMs, bytesSent, streamingElapsedMs int64, postTTSSuppressionMs int64) int64 {
	audioDurationMs := bytesSent / mulawBytesPerMs
	bufferedMs := audioDurationMs - streamingElapsedMs
	if bufferedMs < 0 {
		bufferedMs = 0
	}
	candidate := nowMs + bufferedMs + postTTSSuppressionMs
	if candidate > currentSuppressUntilMs {
		return candidate
	}
	return currentSuppressUntilMs
}

// ExtendForDTMF computes the new suppressUntilMs after emitting digits:
// the tail covers tone duration + gaps + the same constant.
func ExtendForDTMF(currentSuppressUntilMs, nowMs int64, dtmfDurationMs int64, postTTSSuppressionMs int64) int64 {
	candidate := nowMs + dtmfDurationMs + postTTSSuppressionMs
	if candidate > currentSuppressUntilMs {
		return candidate
	}
	return currentSuppressUntilMs
}
