package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/voxrelay/callengine/internal/conversation"
	"github.com/voxrelay/callengine/internal/decoder"
	"github.com/voxrelay/callengine/internal/observability"
	"github.com/voxrelay/callengine/internal/resilience"
	"github.com/voxrelay/callengine/internal/session"
	"github.com/voxrelay/callengine/internal/stt"
	"github.com/voxrelay/callengine/internal/tts"
)

// initiateCall validates the request, runs every origination preflight
// in parallel, builds the per-call collaborator set, registers the
// session and places the call. Telephony origination is never retried.
func (s *Server) initiateCall(ctx context.Context, phoneNumber, goal, callContext string) (string, error) {
	if err := s.validateCallRequest(phoneNumber, goal, callContext); err != nil {
		return "", err
	}

	callID := uuid.NewString()
	log := s.log.With().Str("callId", callID).Logger()
	log.Info().Str("to", phoneNumber).Msg("initiating call")

	ttsClient := tts.NewCartesiaClient(s.cfg.CartesiaAPIKey, s.cfg.CartesiaModelID, s.cfg.CartesiaVoiceID)

	if err := s.runPreflights(ctx, ttsClient, goal, callContext); err != nil {
		_ = ttsClient.Close()
		return "", fmt.Errorf("preflight failed: %w", err)
	}

	deps := session.Deps{
		Config:       s.cfg,
		Log:          log,
		Metrics:      observability.NewCallMetrics(callID),
		Telephony:    s.adapter,
		Conversation: conversation.NewManager(s.cfg.OpenAIAPIKey, s.cfg.OpenAIModel, goal, log),
		STT:          stt.NewDeepgramClient(s.cfg),
		TTS:          ttsClient,
		NewDecoder: func(ctx context.Context) (session.AudioDecoder, error) {
			return decoder.New(ctx, nil)
		},
		Sink: s.sink(callID),
	}

	sess := session.New(callID, goal, callContext, deps)
	s.registerSession(callID, sess)
	sess.Start()

	res, err := s.adapter.Originate(ctx, phoneNumber, callID)
	if err != nil {
		s.removeSession(callID)
		sess.MarkTerminalFromProvider(session.StatusFailed)
		return "", fmt.Errorf("origination failed: %w", err)
	}

	sess.SetExternalCallSID(res.ExternalCallSID)
	s.hub.broadcast(ServerMessage{Type: "call_started", CallID: callID, CallSID: res.ExternalCallSID})
	log.Info().Str("callSid", res.ExternalCallSID).Str("providerStatus", res.Status).Msg("call originated")

	return callID, nil
}

func (s *Server) validateCallRequest(phoneNumber, goal, callContext string) error {
	phoneNumber = strings.TrimSpace(phoneNumber)
	switch {
	case phoneNumber == "":
		return fmt.Errorf("phoneNumber is required")
	case len(phoneNumber) > s.cfg.MaxPhoneLen:
		return fmt.Errorf("phoneNumber exceeds %d characters", s.cfg.MaxPhoneLen)
	case strings.TrimSpace(goal) == "":
		return fmt.Errorf("goal is required")
	case len(goal) > s.cfg.MaxGoalLen:
		return fmt.Errorf("goal exceeds %d characters", s.cfg.MaxGoalLen)
	case len(callContext) > s.cfg.MaxContextLen:
		return fmt.Errorf("context exceeds %d characters", s.cfg.MaxContextLen)
	}
	return nil
}

// runPreflights fans every external-dependency check out in parallel and
// fails origination on the first error: a call that cannot be served end
// to end should never be placed.
func (s *Server) runPreflights(ctx context.Context, ttsClient tts.Client, goal, callContext string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if !decoder.BinaryAvailable(nil) {
			return fmt.Errorf("audio transcoder binary not found on PATH")
		}
		return nil
	})

	g.Go(func() error {
		if err := s.adapter.VerifyAccount(ctx); err != nil {
			return fmt.Errorf("telephony account check: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := stt.CheckCredentials(ctx, s.cfg.DeepgramAPIKey); err != nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		estimate := ttsClient.EstimateCharacterBudget(goal, callContext)
		if err := ttsClient.CheckQuota(estimate); err != nil {
			return fmt.Errorf("tts quota check: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.webhookRoundTrip(ctx)
	})

	return g.Wait()
}

// webhookRoundTrip confirms the public URL actually routes back to this
// server before the provider is given it: /health, the voice path and
// the status path must all answer through the tunnel.
func (s *Server) webhookRoundTrip(ctx context.Context) error {
	if s.cfg.PublicURL == "" {
		return fmt.Errorf("public URL is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.PreflightWebhookTimeoutMs)*time.Millisecond)
	defer cancel()

	client := &http.Client{}
	paths := []string{"/health", s.cfg.VoicePath + "?callId=preflight", s.cfg.StatusPath}

	for _, path := range paths {
		endpoint := s.publicEndpoint(path)
		err := resilience.Retry(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= 500 {
				return fmt.Errorf("returned HTTP %d", resp.StatusCode)
			}
			return nil
		}, &resilience.RetryConfig{
			MaxAttempts:    s.cfg.RetryMaxAttempts,
			InitialBackoff: time.Duration(s.cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:     time.Second,
			Multiplier:     2.0,
		}, nil)
		if err != nil {
			return fmt.Errorf("public URL round-trip to %s failed: %w", endpoint, err)
		}
	}
	return nil
}
