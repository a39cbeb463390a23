package decoder

import (
	"context"
	"testing"
	"time"
)

// echoTranscoder stands in for the real MP3→µ-law binary in tests: it just
// copies stdin to stdout, letting us exercise the pipe plumbing without a
// real transcoder installed.
var echoTranscoder = []string{"cat"}

func TestDecoder_WriteEndProducesData(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := New(ctx, echoTranscoder)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	payload := []byte("fake mp3 bytes")
	if err := d.Write(payload); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := d.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	var got []byte
	closed := false
	for !closed {
		select {
		case e := <-d.Events():
			switch e.Kind {
			case EventData:
				got = append(got, e.Chunk...)
			case EventClose:
				closed = true
			case EventError:
				t.Fatalf("unexpected decoder error: %v", e.Err)
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for decoder close")
		}
	}

	if string(got) != string(payload) {
		t.Errorf("expected echoed payload %q, got %q", payload, got)
	}
}

func TestDecoder_StopIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d, err := New(ctx, []string{"sleep", "5"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := d.Stop(); err != nil {
		t.Errorf("first Stop failed: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got: %v", err)
	}
}

func TestBinaryAvailable(t *testing.T) {
	if !BinaryAvailable([]string{"cat"}) {
		t.Error("expected cat to be found on PATH")
	}
	if BinaryAvailable([]string{"definitely-not-a-real-binary-xyz"}) {
		t.Error("expected a nonexistent binary to be reported unavailable")
	}
}
