package conversation

import "testing"

func TestSentenceBoundary_TerminalPunctuation(t *testing.T) {
	buf := "Hello there. How can I help?"
	idx, found := SentenceBoundary(buf)
	if !found {
		t.Fatal("expected a boundary to be found")
	}
	// The split lands just past the punctuation and its trailing
	// whitespace: for a terminal at index i, idx is i+2.
	if idx != 13 {
		t.Errorf("expected boundary at 13, got %d", idx)
	}
	if got := buf[:idx]; got != "Hello there. " {
		t.Errorf("expected chunk %q, got %q", "Hello there. ", got)
	}
}

func TestSentenceBoundary_NoTerminalShortBuffer(t *testing.T) {
	_, found := SentenceBoundary("short clause")
	if found {
		t.Error("expected no boundary for a short buffer with no terminal punctuation")
	}
}

func TestSentenceBoundary_CommaFallbackOnLongBuffer(t *testing.T) {
	buf := "this is a long run-on clause with no terminal punctuation, and more text after"
	idx, found := SentenceBoundary(buf)
	if !found {
		t.Fatal("expected comma fallback to fire past the length threshold")
	}
	if buf[idx-2] != ',' || buf[idx-1] != ' ' {
		t.Errorf("expected split just past the comma and its whitespace, got split before %q", buf[idx-5:idx+5])
	}
}

func TestSentenceBoundary_PrefersTerminalOverComma(t *testing.T) {
	buf := "Wait, actually never mind. Let's continue, shall we"
	idx, found := SentenceBoundary(buf)
	if !found {
		t.Fatal("expected a boundary")
	}
	if buf[:idx] != "Wait, actually never mind. " {
		t.Errorf("expected terminal punctuation to win, got chunk %q", buf[:idx])
	}
}
