package session

import (
	"time"

	"github.com/voxrelay/callengine/internal/audio"
)

func (s *Session) handleMediaFrame(f MediaFrame) {
	switch f.Event {
	case "connected":
		// Nothing to do; "start" is what actually binds the stream.

	case "start":
		s.handleStreamStart(f)

	case "media":
		s.handleInboundAudio(f)

	case "stop":
		s.terminate(StatusCompleted, "media stream closed")
	}
}

func (s *Session) handleStreamStart(f MediaFrame) {
	if f.Start == nil {
		return
	}
	s.state.setStreamSID(f.Start.StreamSID)
	s.state.setStatus(StatusInProgress)
	s.cancelTimer(timerCallAnswer)
	s.metrics.RecordCallStart()
	s.sink.Publish(Lifecycle{Type: "call_connected", CallID: s.state.CallID, CallSID: s.state.Snapshot().ExternalCallSID})

	// Prefetch the greeting so synthesis overlaps the deferral window.
	go func() {
		text, err := s.conv.Greeting(s.ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("greeting generation failed")
			return
		}
		s.send(loopEvent{kind: evGreetingReady, greetingText: text})
	}()

	s.armTimer(timerGreeting, time.Duration(s.cfg.GreetingDelayMs)*time.Millisecond)
	s.armTimer(timerMaxGreetingDeferral, time.Duration(s.cfg.MaxGreetingDeferralMs)*time.Millisecond)
}

func (s *Session) handleInboundAudio(f MediaFrame) {
	if f.Media == nil || f.Media.Payload == "" {
		return
	}
	mulaw, err := base64DecodeMedia(f.Media.Payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed media payload")
		return
	}
	pcm, err := audio.ConvertPCMUToPCM(mulaw)
	if err != nil {
		return
	}

	s.metrics.RecordAudioBytes("in", int64(len(mulaw)))

	if !s.greeted {
		rms := audio.CalculateRMS(audio.BytesToSamples(pcm))
		if s.preGreetingVAD.Observe(rms) {
			s.remoteSpeechDetectedAtMs = s.nowMs()
		}
	}

	if err := s.sttClient.SendAudio(pcm); err != nil {
		s.log.Warn().Err(err).Msg("stt send audio failed")
	}
}
