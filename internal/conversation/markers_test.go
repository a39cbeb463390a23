package conversation

import (
	"reflect"
	"testing"
)

func TestExtractDTMF_SingleMarker(t *testing.T) {
	cleaned, digits := extractDTMF("Sure, dialing extension now [DTMF:1234].")
	if cleaned != "Sure, dialing extension now ." {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
	if !reflect.DeepEqual(digits, []string{"1234"}) {
		t.Errorf("unexpected digits: %v", digits)
	}
}

func TestExtractDTMF_NoMarker(t *testing.T) {
	cleaned, digits := extractDTMF("nothing to extract here")
	if cleaned != "nothing to extract here" {
		t.Errorf("expected text unchanged, got %q", cleaned)
	}
	if len(digits) != 0 {
		t.Errorf("expected no digits, got %v", digits)
	}
}

func TestExtractDTMF_MultipleMarkers(t *testing.T) {
	_, digits := extractDTMF("[DTMF:1] then [DTMF:2*3]")
	if !reflect.DeepEqual(digits, []string{"1", "2*3"}) {
		t.Errorf("unexpected digits: %v", digits)
	}
}

func TestExtractCallComplete_Present(t *testing.T) {
	cleaned, complete := extractCallComplete("Thanks, goodbye![CALL_COMPLETE]")
	if !complete {
		t.Error("expected isComplete to be true")
	}
	if cleaned != "Thanks, goodbye!" {
		t.Errorf("unexpected cleaned text: %q", cleaned)
	}
}

func TestExtractCallComplete_Absent(t *testing.T) {
	cleaned, complete := extractCallComplete("still talking")
	if complete {
		t.Error("expected isComplete to be false")
	}
	if cleaned != "still talking" {
		t.Errorf("expected text unchanged, got %q", cleaned)
	}
}
