package echooracle

import "testing"

func i64(v int64) *int64 { return &v }

func TestDecide_Precedence(t *testing.T) {
	cases := []struct {
		name            string
		isSpeaking      bool
		suppressUntilMs int64
		transcriptEndMs *int64
		nowMs           int64
		want            Decision
	}{
		{
			name:            "overlap beats speaking",
			isSpeaking:      true,
			suppressUntilMs: 5000,
			transcriptEndMs: i64(4000),
			nowMs:           4500,
			want:            DecisionOverlap,
		},
		{
			name:            "overlap beats suppressed",
			isSpeaking:      false,
			suppressUntilMs: 5000,
			transcriptEndMs: i64(4999),
			nowMs:           4500,
			want:            DecisionOverlap,
		},
		{
			name:            "transcript end after suppress window is not overlap",
			isSpeaking:      false,
			suppressUntilMs: 5000,
			transcriptEndMs: i64(5001),
			nowMs:           5001,
			want:            DecisionNone,
		},
		{
			name:            "no word timings, speaking wins",
			isSpeaking:      true,
			suppressUntilMs: 0,
			transcriptEndMs: nil,
			nowMs:           1000,
			want:            DecisionSpeaking,
		},
		{
			name:            "no word timings, still suppressed",
			isSpeaking:      false,
			suppressUntilMs: 2000,
			transcriptEndMs: nil,
			nowMs:           1500,
			want:            DecisionSuppressed,
		},
		{
			name:            "no word timings, window elapsed",
			isSpeaking:      false,
			suppressUntilMs: 2000,
			transcriptEndMs: nil,
			nowMs:           2001,
			want:            DecisionNone,
		},
		{
			name:            "transcript end exactly at suppressUntil counts as overlap",
			isSpeaking:      false,
			suppressUntilMs: 3000,
			transcriptEndMs: i64(3000),
			nowMs:           3000,
			want:            DecisionOverlap,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Decide(tc.isSpeaking, tc.suppressUntilMs, tc.transcriptEndMs, tc.nowMs)
			if got != tc.want {
				t.Errorf("Decide() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDecision_String(t *testing.T) {
	cases := map[Decision]string{
		DecisionNone:       "none",
		DecisionSpeaking:   "speaking",
		DecisionSuppressed: "suppressed",
		DecisionOverlap:    "overlap",
	}
	for d, want := range cases {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", d, got, want)
		}
	}
}

func TestExtendForDecoderClose_ExtendsWhenLonger(t *testing.T) {
	// 8000 bytes at 8 bytes/ms = 1000ms of audio; 200ms already streamed,
	// so 800ms of buffered audio remains, plus 300ms post-TTS suppression.
	got := ExtendForDecoderClose(0, 1000, 8000, 200, 300)
	want := int64(1000 + 800 + 300)
	if got != want {
		t.Errorf("ExtendForDecoderClose() = %d, want %d", got, want)
	}
}

func TestExtendForDecoderClose_NeverShrinksWindow(t *testing.T) {
	current := int64(100000)
	got := ExtendForDecoderClose(current, 1000, 800, 200, 300)
	if got != current {
		t.Errorf("expected window to stay at %d, got %d", current, got)
	}
}

func TestExtendForDecoderClose_ClampsNegativeBuffered(t *testing.T) {
	// streamingElapsedMs exceeds computed audio duration: buffered floors at 0.
	got := ExtendForDecoderClose(0, 1000, 800, 5000, 300)
	want := int64(1000 + 0 + 300)
	if got != want {
		t.Errorf("ExtendForDecoderClose() = %d, want %d", got, want)
	}
}

func TestExtendForDTMF_ExtendsAndFloors(t *testing.T) {
	got := ExtendForDTMF(0, 1000, 620, 300)
	want := int64(1000 + 620 + 300)
	if got != want {
		t.Errorf("ExtendForDTMF() = %d, want %d", got, want)
	}

	current := int64(999999)
	got2 := ExtendForDTMF(current, 1000, 620, 300)
	if got2 != current {
		t.Errorf("expected window to stay at %d, got %d", current, got2)
	}
}
