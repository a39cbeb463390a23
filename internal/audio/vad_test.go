package audio

import "testing"

func TestConsecutiveVoiceDetector_FiresAfterRun(t *testing.T) {
	d := NewConsecutiveVoiceDetector(0.015, 2)

	if d.Observe(0.05) {
		t.Error("one loud frame must not fire a 2-frame detector")
	}
	if !d.Observe(0.05) {
		t.Error("second consecutive loud frame should fire")
	}
	// Once the run is established, further loud frames keep reporting.
	if !d.Observe(0.05) {
		t.Error("continued loud frames should keep reporting detection")
	}
}

func TestConsecutiveVoiceDetector_QuietFrameResetsRun(t *testing.T) {
	d := NewConsecutiveVoiceDetector(0.015, 2)

	d.Observe(0.05)
	d.Observe(0.001) // silence breaks the run
	if d.Observe(0.05) {
		t.Error("a broken run must start counting again from one")
	}
	if !d.Observe(0.05) {
		t.Error("fresh run of two loud frames should fire")
	}
}

func TestConsecutiveVoiceDetector_ThresholdIsExclusive(t *testing.T) {
	d := NewConsecutiveVoiceDetector(0.015, 1)

	if d.Observe(0.015) {
		t.Error("RMS exactly at the threshold must not count as voice")
	}
	if !d.Observe(0.0151) {
		t.Error("RMS just above the threshold should count as voice")
	}
}

func TestNewConsecutiveVoiceDetector_ClampsRequiredFrames(t *testing.T) {
	d := NewConsecutiveVoiceDetector(0.015, 0)
	if !d.Observe(0.05) {
		t.Error("requiredFrames below 1 should clamp to 1 and fire on the first loud frame")
	}
}
