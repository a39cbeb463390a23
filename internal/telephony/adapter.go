// Package telephony talks to the outbound call provider's REST API:
// originating calls, generating the control markup the provider fetches
// to wire up the media bridge, forcing hangup, validating webhook
// signatures, and fetching call recordings.
package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxrelay/callengine/internal/resilience"
)

// OriginateResult is returned by Originate.
type OriginateResult struct {
	ExternalCallSID string
	Status          string
}

// Recording describes one call recording available for download.
type Recording struct {
	SID      string
	URL      string
	Duration time.Duration
}

// AdapterConfig configures the telephony adapter's REST calls.
type AdapterConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	PublicURL  string // base URL the provider calls back to, e.g. https://example.com
	VoicePath  string // e.g. /voice
	StatusPath string // e.g. /call-status
	MediaPath  string // e.g. /media
}

// Adapter implements call origination, control markup, hangup,
// webhook signature validation and recording lookup against the
// provider's REST API.
type Adapter struct {
	cfg        AdapterConfig
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	log        zerolog.Logger
}

// NewAdapter constructs a telephony adapter.
func NewAdapter(cfg AdapterConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    resilience.NewCircuitBreaker("telephony", 5, 30*time.Second),
		log:        log.With().Str("component", "telephony").Logger(),
	}
}

// Originate places an outbound call and configures the provider to POST
// status callbacks for {initiated, ringing, answered, completed} and to
// fetch control markup from <publicUrl>/<voicePath>?callId=....
//
// Telephony origination is never retried by the resilience layer: a
// second origination attempt after an ambiguous failure can place a
// duplicate real-world phone call, so the circuit breaker here only
// protects against hammering a provider that is already down, it never
// triggers an automatic retry of this specific request.
func (a *Adapter) Originate(ctx context.Context, to, callID string) (*OriginateResult, error) {
	apiURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Calls.json", a.cfg.AccountSID)

	voiceURL := fmt.Sprintf("%s%s?callId=%s", a.cfg.PublicURL, a.cfg.VoicePath, url.QueryEscape(callID))
	statusURL := fmt.Sprintf("%s%s?callId=%s", a.cfg.PublicURL, a.cfg.StatusPath, url.QueryEscape(callID))

	form := url.Values{
		"To":                    {to},
		"From":                  {a.cfg.FromNumber},
		"Url":                   {voiceURL},
		"StatusCallback":        {statusURL},
		"StatusCallbackEvent":   {"initiated ringing answered completed"},
		"StatusCallbackMethod":  {"POST"},
	}

	var result struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}

	err := a.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("build originate request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("originate call: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("telephony provider rejected originate (HTTP %d): %s", resp.StatusCode, string(body))
		}
		return decodeJSON(body, &result)
	})
	if err != nil {
		return nil, err
	}

	return &OriginateResult{ExternalCallSID: result.SID, Status: result.Status}, nil
}

// VoiceMarkup returns the control document that instructs the provider to
// open a bidirectional audio bridge to <publicUrl>/<mediaPath>, carrying
// callId as a named stream parameter. The inbound track is selected
// explicitly: omitting it silently drops caller audio.
func (a *Adapter) VoiceMarkup(callID string) string {
	mediaURL := a.cfg.PublicURL + a.cfg.MediaPath
	mediaURL = strings.Replace(mediaURL, "https://", "wss://", 1)
	mediaURL = strings.Replace(mediaURL, "http://", "ws://", 1)

	return fmt.Sprintf(
		`<Response><Connect><Stream url="%s" track="inbound_track"><Parameter name="callId" value="%s"/></Stream></Connect></Response>`,
		xmlEscape(mediaURL), xmlEscape(callID),
	)
}

// ErrorMarkup returns a control document that speaks a short apology via
// the provider's built-in synthesizer and terminates the call.
func (a *Adapter) ErrorMarkup(msg string) string {
	return fmt.Sprintf(`<Response><Say>%s</Say><Hangup/></Response>`, xmlEscape(msg))
}

// Hangup forces termination of an active call.
func (a *Adapter) Hangup(ctx context.Context, externalCallSID string) error {
	apiURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Calls/%s.json",
		a.cfg.AccountSID, externalCallSID)

	form := url.Values{"Status": {"completed"}}

	return a.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
		if err != nil {
			return fmt.Errorf("build hangup request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("hangup call: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("telephony provider rejected hangup (HTTP %d): %s", resp.StatusCode, string(body))
		}
		return nil
	})
}

// ValidateWebhookSignature verifies the provider's HMAC-SHA1 signature
// over the webhook URL and its sorted form parameters before the caller
// trusts a status payload.
func (a *Adapter) ValidateWebhookSignature(sig, webhookURL string, params url.Values) error {
	if sig == "" {
		return fmt.Errorf("telephony: missing webhook signature")
	}

	expected := computeSignature(a.cfg.AuthToken, webhookURL, params)

	sigBytes, err := decodeBase64Signature(sig)
	if err != nil {
		return fmt.Errorf("telephony: invalid signature encoding: %w", err)
	}

	if !hmac.Equal(sigBytes, expected) {
		return fmt.Errorf("telephony: webhook signature mismatch")
	}
	return nil
}

func computeSignature(authToken, webhookURL string, params url.Values) []byte {
	data := webhookURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			data += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// FetchRecordings enumerates recordings available for a completed call.
func (a *Adapter) FetchRecordings(ctx context.Context, externalCallSID string) ([]Recording, error) {
	apiURL := fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Calls/%s/Recordings.json",
		a.cfg.AccountSID, externalCallSID)

	var parsed struct {
		Recordings []struct {
			SID            string `json:"sid"`
			DurationSecond string `json:"duration"`
		} `json:"recordings"`
	}

	err := a.breaker.Call(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return fmt.Errorf("build recordings request: %w", err)
		}
		httpReq.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("fetch recordings: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("telephony provider rejected recordings lookup (HTTP %d): %s", resp.StatusCode, string(body))
		}
		return decodeJSON(body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	recordings := make([]Recording, 0, len(parsed.Recordings))
	for _, r := range parsed.Recordings {
		dur := parseSecondsDuration(r.DurationSecond)
		recordings = append(recordings, Recording{
			SID:      r.SID,
			URL:      fmt.Sprintf("https://api.telephony-provider.example/2010-04-01/Accounts/%s/Recordings/%s.mp3", a.cfg.AccountSID, r.SID),
			Duration: dur,
		})
	}
	return recordings, nil
}

func xmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
