package audio

// ConsecutiveVoiceDetector flags "remote speech detected" once RMS exceeds a
// threshold for a run of consecutive frames. Used before the greeting is
// spoken, where a silence-hangover state machine isn't wanted — any run of
// loud frames is enough to defer the greeting.
type ConsecutiveVoiceDetector struct {
	threshold        float64
	requiredFrames   int
	consecutiveCount int
}

// NewConsecutiveVoiceDetector builds a detector that fires after
// requiredFrames consecutive frames exceed threshold (RMS on [0,1]).
func NewConsecutiveVoiceDetector(threshold float64, requiredFrames int) *ConsecutiveVoiceDetector {
	if requiredFrames < 1 {
		requiredFrames = 1
	}
	return &ConsecutiveVoiceDetector{threshold: threshold, requiredFrames: requiredFrames}
}

// Observe processes one frame's RMS and reports whether this frame completes
// the required run of voiced frames.
func (d *ConsecutiveVoiceDetector) Observe(rms float64) (detected bool) {
	if rms > d.threshold {
		d.consecutiveCount++
	} else {
		d.consecutiveCount = 0
	}
	return d.consecutiveCount >= d.requiredFrames
}
