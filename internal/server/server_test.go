package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/config"
	"github.com/voxrelay/callengine/internal/session"
)

func testServer() *Server {
	cfg := &config.Config{
		Port:                "8080",
		PublicURL:           "https://example.ngrok-free.dev",
		VoicePath:           "/voice",
		StatusPath:          "/call-status",
		MediaPath:           "/media",
		TelephonyAccountSID: "ACtest",
		TelephonyAuthToken:  "shh",
		TelephonyFromNumber: "+15550001111",
		DeepgramAPIKey:      "dg-test",
		CartesiaAPIKey:      "ca-test",
		OpenAIAPIKey:        "oa-test",
		MaxBodyBytes:        1 << 20,
		MaxPhoneLen:         20,
		MaxGoalLen:          1000,
		MaxContextLen:       5000,
		StatusReconcileIntervalMs: 10000,
		PreflightWebhookTimeoutMs: 6000,
	}
	return New(cfg, zerolog.Nop())
}

func TestValidateCallRequest(t *testing.T) {
	s := testServer()

	cases := []struct {
		name    string
		phone   string
		goal    string
		context string
		wantErr string
	}{
		{"valid", "+15551234567", "book a table", "", ""},
		{"missing phone", "", "book a table", "", "phoneNumber is required"},
		{"phone too long", strings.Repeat("5", 21), "book a table", "", "phoneNumber exceeds"},
		{"missing goal", "+15551234567", "  ", "", "goal is required"},
		{"goal too long", "+15551234567", strings.Repeat("g", 1001), "", "goal exceeds"},
		{"context too long", "+15551234567", "book a table", strings.Repeat("c", 5001), "context exceeds"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.validateCallRequest(tc.phone, tc.goal, tc.context)
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestHandleInitiateCall_MalformedBody(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.handleInitiateCall(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCallStatus_Unknown(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/status/nope", nil)
	req.SetPathValue("callId", "nope")
	rec := httptest.NewRecorder()
	s.handleCallStatus(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStatus_Shape(t *testing.T) {
	s := testServer()
	go s.hub.run(s.ctx)
	defer s.cancel()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	var body struct {
		Status         string `json:"status"`
		ActiveCalls    int    `json:"activeCalls"`
		ControlClients int    `json:"controlClients"`
		PublicURL      string `json:"publicUrl"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.ActiveCalls != 0 || body.PublicURL != s.cfg.PublicURL {
		t.Errorf("unexpected status body: %+v", body)
	}
}

func TestVoiceWebhook_UnknownCallServesErrorMarkup(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodPost, "/voice?callId=unknown", nil)
	rec := httptest.NewRecorder()
	s.handleVoiceWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Hangup/>") || !strings.Contains(body, "<Say>") {
		t.Errorf("unknown call should get apology + hangup markup, got %s", body)
	}
}

func TestStatusWebhook_BadSignatureRejected(t *testing.T) {
	s := testServer()

	form := url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/call-status?callId=c1", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(providerSignatureHeader, "bm90LXRoZS1yaWdodC1zaWduYXR1cmU=")
	rec := httptest.NewRecorder()
	s.handleStatusWebhook(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestStatusWebhook_GetProbeAnswersOK(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/call-status", nil)
	rec := httptest.NewRecorder()
	s.handleStatusWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("preflight probe status = %d, want 200", rec.Code)
	}
}

func TestStatusWebhook_UnknownCallAcknowledged(t *testing.T) {
	s := testServer()

	form := url.Values{"CallSid": {"CA999"}, "CallStatus": {"completed"}}
	req := httptest.NewRequest(http.MethodPost, "/call-status?callId=gone", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.handleStatusWebhook(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 so the provider stops retrying", rec.Code)
	}
}

func TestMediaWS_UnknownCallClosedWithPolicyCode(t *testing.T) {
	s := testServer()

	srv := httptest.NewServer(http.HandlerFunc(s.handleMediaWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	start := `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","customParameters":{"callId":"no-such-call"}}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(start)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the socket to be closed")
	}
	var closeErr *websocket.CloseError
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("close error = %v (%T), want policy violation 1008", err, closeErr)
	}
}

func TestServerMessageFromLifecycle(t *testing.T) {
	ev := session.Lifecycle{
		Type: "call_ended", CallID: "c1", CallSID: "CA1",
		Summary: "assistant: Hello.", Status: "completed",
	}
	msg := serverMessageFromLifecycle(ev)
	if msg.Type != "call_ended" || msg.CallID != "c1" || msg.CallSID != "CA1" ||
		msg.Summary != "assistant: Hello." || msg.Status != "completed" {
		t.Errorf("mapped message = %+v", msg)
	}
}

func TestControlHub_BroadcastAndCount(t *testing.T) {
	s := testServer()
	go s.hub.run(s.ctx)
	defer s.cancel()

	c := &controlClient{send: make(chan ServerMessage, 4)}
	s.hub.register <- c

	if got := s.hub.clientCount(); got != 1 {
		t.Fatalf("clientCount = %d, want 1", got)
	}

	s.hub.broadcast(ServerMessage{Type: "call_started", CallID: "c1"})

	select {
	case msg := <-c.send:
		if msg.Type != "call_started" || msg.CallID != "c1" {
			t.Errorf("received %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never reached the client")
	}

	s.hub.unregister <- c
	if got := s.hub.clientCount(); got != 0 {
		t.Errorf("clientCount after unregister = %d, want 0", got)
	}
}
