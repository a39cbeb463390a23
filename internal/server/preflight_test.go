package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookRoundTrip_Succeeds(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health", r.URL.Path == "/voice", r.URL.Path == "/call-status":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer probe.Close()

	s := testServer()
	s.cfg.PublicURL = probe.URL

	if err := s.webhookRoundTrip(context.Background()); err != nil {
		t.Errorf("round-trip against a healthy tunnel should pass: %v", err)
	}
}

func TestWebhookRoundTrip_FailsWhenTunnelDown(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	probe.Close() // tunnel gone

	s := testServer()
	s.cfg.PublicURL = probe.URL

	if err := s.webhookRoundTrip(context.Background()); err == nil {
		t.Error("round-trip against a dead tunnel should fail")
	}
}

func TestWebhookRoundTrip_RequiresPublicURL(t *testing.T) {
	s := testServer()
	s.cfg.PublicURL = ""

	err := s.webhookRoundTrip(context.Background())
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("missing public URL should fail preflight, got %v", err)
	}
}
