package session

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxrelay/callengine/internal/audio"
)

// wireFrame mirrors the outbound media envelope for assertions.
type wireFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// mediaSocketPair gives the session a real WebSocket whose peer end the
// test reads, so outbound ordering can be asserted on the wire.
func mediaSocketPair(t *testing.T) (*websocket.Conn, <-chan wireFrame) {
	t.Helper()
	frames := make(chan wireFrame, 64)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, raw, err := peer.ReadMessage()
			if err != nil {
				return
			}
			var f wireFrame
			if json.Unmarshal(raw, &f) == nil {
				frames <- f
			}
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial media socket pair: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, frames
}

func nextFrame(t *testing.T, frames <-chan wireFrame) wireFrame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for outbound media frame")
		return wireFrame{}
	}
}

// TestSpeechThenDTMFWireOrder drives one spoken chunk followed by a DTMF
// emission through the loop and asserts the wire carries all the speech
// audio before the tones — tones fire only after the carrier sentence
// has fully flushed through the decoder.
func TestSpeechThenDTMFWireOrder(t *testing.T) {
	h := newTestHarness(t, true)
	s := h.sess

	conn, frames := mediaSocketPair(t)
	s.mediaConn = conn
	s.state.setStreamSID("MZ1")
	s.greeted = true

	s.Start()
	defer s.terminateForTest()

	speechDone := make(chan error, 1)
	go func() {
		err := s.speakAndWait("Pressing one now.", true)
		// DTMF is requested only once the speech cycle has fully completed,
		// exactly as the response generator sequences it.
		s.send(loopEvent{kind: evDTMF, dtmfDigits: "1"})
		speechDone <- err
	}()

	speech := nextFrame(t, frames)
	if speech.Event != "media" || speech.Media == nil {
		t.Fatalf("first frame should be speech media, got %+v", speech)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(speech.Media.Payload); string(decoded) != "mp3-bytes" {
		t.Errorf("speech payload = %q", decoded)
	}

	if err := <-speechDone; err != nil {
		t.Fatalf("speakAndWait: %v", err)
	}

	tones := nextFrame(t, frames)
	if tones.Event != "media" || tones.Media == nil {
		t.Fatalf("second frame should be dtmf media, got %+v", tones)
	}
	decoded, err := base64.StdEncoding.DecodeString(tones.Media.Payload)
	if err != nil {
		t.Fatalf("decode tone payload: %v", err)
	}
	want, _ := audio.GenerateDTMF("1")
	if len(decoded) != len(want) {
		t.Errorf("tone payload is %d bytes, want %d (one 160ms digit at 8kHz)", len(decoded), len(want))
	}
}
