package telephony

import (
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func testAdapter() *Adapter {
	cfg := AdapterConfig{
		AccountSID: "ACtest",
		AuthToken:  "shh",
		FromNumber: "+15551234567",
		PublicURL:  "https://example.com",
		VoicePath:  "/voice",
		MediaPath:  "/media",
	}
	return NewAdapter(cfg, zerolog.Nop())
}

func TestVoiceMarkup_SelectsInboundTrack(t *testing.T) {
	a := testAdapter()
	markup := a.VoiceMarkup("call-123")

	if !strings.Contains(markup, `track="inbound_track"`) {
		t.Errorf("expected inbound track to be selected, got: %s", markup)
	}
	if !strings.Contains(markup, "wss://example.com/media") {
		t.Errorf("expected wss media URL, got: %s", markup)
	}
	if !strings.Contains(markup, `value="call-123"`) {
		t.Errorf("expected callId parameter, got: %s", markup)
	}
}

func TestVoiceMarkup_EscapesCallID(t *testing.T) {
	a := testAdapter()
	markup := a.VoiceMarkup(`call"<>&'`)
	if strings.Contains(markup, `call"<>&'`) {
		t.Errorf("expected callId to be XML-escaped, got: %s", markup)
	}
}

func TestErrorMarkup_SpeaksAndHangsUp(t *testing.T) {
	a := testAdapter()
	markup := a.ErrorMarkup("sorry, something went wrong")

	if !strings.Contains(markup, "<Say>sorry, something went wrong</Say>") {
		t.Errorf("expected apology to be spoken, got: %s", markup)
	}
	if !strings.Contains(markup, "<Hangup/>") {
		t.Errorf("expected call to be terminated, got: %s", markup)
	}
}

func TestValidateWebhookSignature_MissingSignature(t *testing.T) {
	a := testAdapter()
	err := a.ValidateWebhookSignature("", "https://example.com/voice", url.Values{})
	if err == nil {
		t.Error("expected error for missing signature")
	}
}

func TestValidateWebhookSignature_RoundTrip(t *testing.T) {
	a := testAdapter()
	webhookURL := "https://example.com/voice?callId=abc"
	params := url.Values{"CallSid": {"CAxyz"}, "CallStatus": {"completed"}}

	sig := computeSignature(a.cfg.AuthToken, webhookURL, params)
	encoded := base64Encode(sig)

	if err := a.ValidateWebhookSignature(encoded, webhookURL, params); err != nil {
		t.Errorf("expected valid signature to pass, got: %v", err)
	}
}

func TestValidateWebhookSignature_RejectsTamperedParams(t *testing.T) {
	a := testAdapter()
	webhookURL := "https://example.com/voice?callId=abc"
	params := url.Values{"CallSid": {"CAxyz"}, "CallStatus": {"completed"}}

	sig := computeSignature(a.cfg.AuthToken, webhookURL, params)
	encoded := base64Encode(sig)

	tampered := url.Values{"CallSid": {"CAxyz"}, "CallStatus": {"failed"}}
	if err := a.ValidateWebhookSignature(encoded, webhookURL, tampered); err == nil {
		t.Error("expected tampered params to fail signature validation")
	}
}

func TestValidateWebhookSignature_InvalidEncoding(t *testing.T) {
	a := testAdapter()
	err := a.ValidateWebhookSignature("not-valid-base64!!!", "https://example.com/voice", url.Values{})
	if err == nil {
		t.Error("expected error for malformed signature encoding")
	}
}

func TestXMLEscape(t *testing.T) {
	got := xmlEscape(`<a>&"'`)
	want := "&lt;a&gt;&amp;&quot;&apos;"
	if got != want {
		t.Errorf("xmlEscape() = %q, want %q", got, want)
	}
}

func TestParseSecondsDuration(t *testing.T) {
	if d := parseSecondsDuration("42"); d.Seconds() != 42 {
		t.Errorf("expected 42s, got %v", d)
	}
	if d := parseSecondsDuration("not-a-number"); d != 0 {
		t.Errorf("expected 0 for unparsable input, got %v", d)
	}
}
